package domain

import (
	"encoding/json"
	"fmt"
)

// EventType — тип события, пришедшего по потоку.
type EventType string

const (
	EventMessage   EventType = "message"
	EventTyping    EventType = "typing"
	EventRead      EventType = "read"
	EventDelivered EventType = "delivered"
	EventOffer     EventType = "offer"
	EventPayment   EventType = "payment"
	EventMilestone EventType = "milestone"
)

// StreamEvent — разобранное событие потока. Неизвестные типы допустимы:
// получатель обязан их молча пропускать, а не падать.
type StreamEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseStreamEvent разбирает сырой payload события.
func ParseStreamEvent(raw []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("разбор события потока: %w", err)
	}
	if ev.Type == "" {
		return StreamEvent{}, fmt.Errorf("событие потока без типа")
	}
	return ev, nil
}

// Item разбирает data события как Item для типов message/offer/payment/milestone.
func (e StreamEvent) Item() (Item, error) {
	var item Item
	if err := json.Unmarshal(e.Data, &item); err != nil {
		return Item{}, fmt.Errorf("разбор item из события %s: %w", e.Type, err)
	}
	return item, nil
}

// TypingPayload — данные события typing.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Typing разбирает data события typing.
func (e StreamEvent) Typing() (TypingPayload, error) {
	var p TypingPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return TypingPayload{}, fmt.Errorf("разбор typing: %w", err)
	}
	return p, nil
}

// ReceiptPayload — данные событий read/delivered.
type ReceiptPayload struct {
	ItemID string `json:"itemId"`
	UserID string `json:"userId,omitempty"`
}

// Receipt разбирает data события read или delivered.
func (e StreamEvent) Receipt() (ReceiptPayload, error) {
	var p ReceiptPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return ReceiptPayload{}, fmt.Errorf("разбор квитанции %s: %w", e.Type, err)
	}
	return p, nil
}
