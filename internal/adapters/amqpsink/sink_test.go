package amqpsink

import (
	"testing"

	"dealstream/internal/domain"
)

func TestRoutingKey(t *testing.T) {
	cases := map[domain.NotificationKind]string{
		domain.NotifyOffer:   "notification.offer",
		domain.NotifyPayment: "notification.payment",
		"":                   "notification.system",
	}
	for kind, want := range cases {
		if got := RoutingKey(domain.Item{Kind: kind}); got != want {
			t.Fatalf("для %q ожидали %q, получили %q", kind, want, got)
		}
	}
}
