package unread

import (
	"fmt"
	"math/rand"
	"testing"

	"dealstream/internal/domain"
)

func arrived(t *Tracker, channelID string) {
	t.OnItemArrived(domain.Item{ID: "x", ChannelID: channelID}, false, false)
}

func TestOwnOrActiveItemsDoNotCount(t *testing.T) {
	tr := New(nil)
	tr.OnItemArrived(domain.Item{ChannelID: "ch1"}, true, false)
	tr.OnItemArrived(domain.Item{ChannelID: "ch1"}, false, true)
	if tr.GlobalCount() != 0 {
		t.Fatalf("свои и активные элементы не должны увеличивать счётчик")
	}
}

func TestMarkChannelReadArithmetic(t *testing.T) {
	tr := New(nil)
	for i := 0; i < 2; i++ {
		arrived(tr, "ch1")
	}
	for i := 0; i < 5; i++ {
		arrived(tr, "ch3")
	}
	if tr.GlobalCount() != 7 {
		t.Fatalf("ожидали агрегат 7, получили %d", tr.GlobalCount())
	}

	tr.MarkChannelRead("ch1")

	if tr.ChannelCount("ch1") != 0 {
		t.Fatalf("счётчик ch1 должен обнулиться")
	}
	if tr.GlobalCount() != 5 {
		t.Fatalf("агрегат должен упасть ровно на 2: получили %d", tr.GlobalCount())
	}
	// Повторный mark-read ничего не меняет.
	tr.MarkChannelRead("ch1")
	if tr.GlobalCount() != 5 {
		t.Fatalf("повторный mark-read не должен менять агрегат")
	}
}

func TestConservationUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 20; run++ {
		tr := New(nil)
		channels := []string{"a", "b", "c", "d"}
		for op := 0; op < 500; op++ {
			ch := channels[rng.Intn(len(channels))]
			switch rng.Intn(3) {
			case 0, 1:
				tr.OnItemArrived(domain.Item{ChannelID: ch}, rng.Intn(4) == 0, rng.Intn(4) == 0)
			case 2:
				tr.MarkChannelRead(ch)
			}
			sum := 0
			for _, c := range channels {
				sum += tr.ChannelCount(c)
			}
			if sum != tr.GlobalCount() {
				t.Fatalf("нарушена консервация: сумма %d, агрегат %d (прогон %d, шаг %d)", sum, tr.GlobalCount(), run, op)
			}
		}
	}
}

func TestServerCountOverridesLocalSum(t *testing.T) {
	tr := New(nil)
	arrived(tr, domain.GlobalNotificationChannel)
	arrived(tr, domain.GlobalNotificationChannel)

	tr.SetServerCount(domain.GlobalNotificationChannel, 12)
	if tr.GlobalCount() != 12 {
		t.Fatalf("после SetServerCount агрегат ведёт сервер: получили %d", tr.GlobalCount())
	}
	tr.SetServerCount(domain.GlobalNotificationChannel, 3)
	if tr.GlobalCount() != 3 {
		t.Fatalf("ожидали 3, получили %d", tr.GlobalCount())
	}
	tr.SetServerCount(domain.GlobalNotificationChannel, -5)
	if tr.GlobalCount() != 0 {
		t.Fatalf("отрицательное значение сервера приводится к нулю")
	}
	if tr.ChannelCount(domain.GlobalNotificationChannel) != tr.GlobalCount() {
		t.Fatalf("перезапись сервера сохраняет консервацию")
	}
}

func TestItemReadDecrementsByOne(t *testing.T) {
	tr := New(nil)
	arrived(tr, "ch1")
	arrived(tr, "ch1")

	tr.ItemRead("ch1")
	if tr.ChannelCount("ch1") != 1 || tr.GlobalCount() != 1 {
		t.Fatalf("ожидали 1/1, получили %d/%d", tr.ChannelCount("ch1"), tr.GlobalCount())
	}
	tr.ItemRead("ch1")
	tr.ItemRead("ch1")
	if tr.GlobalCount() != 0 {
		t.Fatalf("счётчик не уходит ниже нуля")
	}
}

func TestBadgeCallbackFiresOnEveryMutation(t *testing.T) {
	var calls []int
	tr := New(func(total int) { calls = append(calls, total) })

	arrived(tr, "ch1")
	arrived(tr, "ch1")
	tr.MarkChannelRead("ch1")

	want := []int{1, 2, 0}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Fatalf("ожидали вызовы %v, получили %v", want, calls)
	}
}
