package notificator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const starsCurrency = "XTR"

type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgModels.Message, error)
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*tgModels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*tgModels.Message, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
}

// PaymentConfirmer settles in-app payments reported by Telegram.
type PaymentConfirmer interface {
	ConfirmInApp(ctx context.Context, payload, chargeID string, amount int, currency string) (*models.PaymentOutcome, error)
}

// TelegramNotificator talks to the Bot API: it sends notifications and Stars
// invoices, and settles the payments Telegram reports back.
type TelegramNotificator struct {
	logger   *logger.Logger
	api      botAPI
	bot      *bot.Bot
	payments PaymentConfirmer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegramNotificator(token string, logger *logger.Logger) (*TelegramNotificator, error) {
	provider := newTelegramNotificator(nil, logger)
	opts := []bot.Option{
		bot.WithDefaultHandler(provider.handler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	provider.bot = b
	provider.api = b
	return provider, nil
}

func newTelegramNotificator(api botAPI, logger *logger.Logger) *TelegramNotificator {
	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramNotificator{logger: logger, api: api, ctx: ctx, cancel: cancel}
}

// SetPaymentConfirmer wires the settlement of in-app payments. Until it is
// set, settlements are only logged.
func (t *TelegramNotificator) SetPaymentConfirmer(payments PaymentConfirmer) {
	t.payments = payments
}

// Start polls the Bot API for updates until Stop is called.
func (t *TelegramNotificator) Start() {
	if t.bot == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.bot.Start(t.ctx)
	}()
}

func (t *TelegramNotificator) Stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *TelegramNotificator) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

// SendDocument uploads data as a file named filename.
func (t *TelegramNotificator) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	_, err := t.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &tgModels.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Caption:  caption,
	})
	return err
}

// SendInvoice posts a Stars invoice. Stars need no payment provider token.
func (t *TelegramNotificator) SendInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int) error {
	_, err := t.api.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      chatID,
		Title:       title,
		Description: description,
		Payload:     payload,
		Currency:    starsCurrency,
		Prices:      []tgModels.LabeledPrice{{Label: title, Amount: stars}},
	})
	return err
}

func (t *TelegramNotificator) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	t.handleUpdate(ctx, update)
}

func (t *TelegramNotificator) handleUpdate(ctx context.Context, update *tgModels.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		t.answerPreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		t.settle(ctx, update.Message.Chat.ID, update.Message.SuccessfulPayment)
	case update.Message != nil && update.Message.Text == "/start":
		if err := t.SendMessage(ctx, update.Message.Chat.ID, "Notifications for this chat are enabled."); err != nil {
			t.logger.Errorw("Failed to answer /start", "chat_id", update.Message.Chat.ID, "error", err)
		}
	}
}

// answerPreCheckout accepts every checkout. Telegram cancels the payment if
// the answer does not come within ten seconds, and the order is verified at
// settlement anyway.
func (t *TelegramNotificator) answerPreCheckout(ctx context.Context, query *tgModels.PreCheckoutQuery) {
	_, err := t.api.AnswerPreCheckoutQuery(ctx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	})
	if err != nil {
		t.logger.Errorw("Failed to answer pre-checkout query", "query_id", query.ID, "error", err)
	}
}

func (t *TelegramNotificator) settle(ctx context.Context, chatID int64, payment *tgModels.SuccessfulPayment) {
	log := t.logger.With("chat_id", chatID, "charge_id", payment.TelegramPaymentChargeID, "payload", payment.InvoicePayload)
	if t.payments == nil {
		log.Error("In-app payment received but no confirmer is wired")
		return
	}

	outcome, err := t.payments.ConfirmInApp(ctx, payment.InvoicePayload, payment.TelegramPaymentChargeID, payment.TotalAmount, payment.Currency)
	if err != nil {
		log.Errorw("Failed to settle in-app payment", "error", err)
		if errors.Is(err, models.ErrAmountMismatch) {
			// The reconciler already told the user.
			return
		}
		if serr := t.SendMessage(ctx, chatID, "We received your payment but could not complete it. Please contact support."); serr != nil {
			log.Errorw("Failed to notify about payment failure", "error", serr)
		}
		return
	}
	if outcome.Duplicate {
		return
	}
	log.Infow("In-app payment settled", "transaction_id", outcome.Transaction.ID)
}
