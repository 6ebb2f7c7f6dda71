package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	sendBatchSize = 10
	batchPause    = 50 * time.Millisecond
	missingText   = "Не указано"
	noStickerText = "Нужно собрать!"
)

// Messenger is the chat transport. Implemented by the Telegram client;
// tests substitute a fake.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL string, caption string) error
}

type AccessSource interface {
	WarehouseAccess(ctx context.Context) map[string][]int64
}

// Notification describes one newly ingested order.
type Notification struct {
	OrderID     int64
	ProductName string
	Article     string
	Sticker     string
	Warehouse   string
	SupplyID    string
	PhotoURL    string
}

func (n Notification) Text() string {

	article := n.Article
	if article == "" {
		article = missingText
	}
	name := n.ProductName
	if name == "" {
		name = missingText
	}

	text := "🆕 НОВОЕ ЗАДАНИЕ!\n" +
		fmt.Sprintf("Артикул продавца: %s\n", article)
	if n.Sticker != "" && n.Sticker != noStickerText {
		text += fmt.Sprintf("Стикер: %s\n", n.Sticker)
	} else {
		text += "⚠️ Статус: " + noStickerText + "\n"
	}
	text += fmt.Sprintf("Наименование: %s\n", name)
	if n.SupplyID != "" {
		text += fmt.Sprintf("📦 Поставка: %s\n", n.SupplyID)
	}
	text += fmt.Sprintf("№ задания: %d\n", n.OrderID)
	if n.Warehouse != "" {
		text += fmt.Sprintf("Склад : %s\n", n.Warehouse)
	}
	return text
}

// Dispatcher fans a notification out to every recipient with access to the
// order's warehouse. Emissions are independent: one failed recipient never
// blocks the rest, and notification never gates ledger state.
type Dispatcher struct {
	access    AccessSource
	messenger Messenger
}

func NewDispatcher(access AccessSource, messenger Messenger) *Dispatcher {
	return &Dispatcher{
		access:    access,
		messenger: messenger,
	}
}

// NotifyWarehouse returns the number of recipients that received the
// notification.
func (d *Dispatcher) NotifyWarehouse(ctx context.Context, n Notification) int {

	chatIDs := d.access.WarehouseAccess(ctx)[n.Warehouse]
	if len(chatIDs) == 0 {
		logger.Warningf("No chat IDs found for warehouse: %s", n.Warehouse)
		return 0
	}

	sent := 0
	for _, chatID := range chatIDs {
		if err := d.send(ctx, chatID, n); err != nil {
			logger.Errorf("Error sending order %d notification to chat %d: %s", n.OrderID, chatID, err)
			continue
		}
		sent++
	}
	logger.Infof("Sent order %d notifications to %d users for warehouse: %s", n.OrderID, sent, n.Warehouse)
	return sent
}

// SendBatch delivers many notifications to one chat in bounded concurrent
// groups with a small pause in between, to stay under the messenger's rate
// limits. Returns the number delivered.
func (d *Dispatcher) SendBatch(ctx context.Context, chatID int64, notifications []Notification) int {

	var sent atomic.Int64
	for start := 0; start < len(notifications); start += sendBatchSize {
		end := min(start+sendBatchSize, len(notifications))

		var g errgroup.Group
		for _, n := range notifications[start:end] {
			n := n
			g.Go(func() error {
				if err := d.send(ctx, chatID, n); err != nil {
					logger.Errorf("Failed to send order %d to chat %d: %s", n.OrderID, chatID, err)
					return nil
				}
				sent.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(notifications) {
			select {
			case <-ctx.Done():
				return int(sent.Load())
			case <-time.After(batchPause):
			}
		}
	}
	logger.Infof("Sent %d out of %d orders", sent.Load(), len(notifications))
	return int(sent.Load())
}

// send prefers a photo with caption and falls back to plain text when the
// photo cannot be delivered.
func (d *Dispatcher) send(ctx context.Context, chatID int64, n Notification) error {

	text := n.Text()
	if n.PhotoURL != "" {
		err := d.messenger.SendPhoto(ctx, chatID, n.PhotoURL, text)
		if err == nil {
			return nil
		}
		logger.Warningf("Failed to send photo for order %d: %s. Sending text only.", n.OrderID, err)
	}
	return d.messenger.SendMessage(ctx, chatID, text)
}
