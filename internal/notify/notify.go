package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beihilfepay/beihilfepay/internal/models"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Notifier announces invoices that were routed to a reimbursement channel
type Notifier interface {
	NotifyRouting(ctx context.Context, inv *models.InvoiceRecord) error
}

// Noop is used when no chat is configured
type Noop struct{}

// NotifyRouting does nothing
func (Noop) NotifyRouting(context.Context, *models.InvoiceRecord) error { return nil }

// Config holds the Lark bot settings
type Config struct {
	AppID     string
	AppSecret string
	ChatID    string
	BaseURL   string // optional, e.g. https://open.larksuite.com
}

// Enabled reports whether all credentials are present
func (c Config) Enabled() bool {
	return c.AppID != "" && c.AppSecret != "" && c.ChatID != ""
}

const (
	receiveIDTypeChat = "chat_id"
	msgTypeText       = "text"
)

// sender posts one message and returns its ID
type sender interface {
	Send(ctx context.Context, chatID, msgType, content string) (string, error)
}

// LarkNotifier posts routing messages to a Lark group chat
type LarkNotifier struct {
	chatID string
	sender sender
	logger *zap.Logger
}

// New returns a LarkNotifier, or Noop when cfg is incomplete
func New(cfg Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled() {
		logger.Info("Routing notifications disabled")
		return Noop{}
	}

	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}

	return &LarkNotifier{
		chatID: cfg.ChatID,
		sender: &messageAPI{client: lark.NewClient(cfg.AppID, cfg.AppSecret, opts...)},
		logger: logger,
	}
}

// NotifyRouting posts a message when at least one channel is submitted
func (n *LarkNotifier) NotifyRouting(ctx context.Context, inv *models.InvoiceRecord) error {
	text := RoutingText(inv)
	if text == "" {
		return nil
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	messageID, err := n.sender.Send(ctx, n.chatID, msgTypeText, string(content))
	if err != nil {
		n.logger.Error("Failed to send routing notification",
			zap.Int64("invoice_id", inv.ID),
			zap.Error(err))
		return err
	}

	n.logger.Info("Routing notification sent",
		zap.Int64("invoice_id", inv.ID),
		zap.String("message_id", messageID))
	return nil
}

// RoutingText describes where inv was forwarded. It is empty when the
// invoice was not forwarded anywhere.
func RoutingText(inv *models.InvoiceRecord) string {
	var channels []string
	if inv.SubsidyStatus == models.RoutingSubmitted {
		channels = append(channels, "Beihilfe")
	}
	if inv.PrivateInsuranceStatus == models.RoutingSubmitted {
		channels = append(channels, "Private Krankenversicherung")
	}
	if len(channels) == 0 {
		return ""
	}

	return fmt.Sprintf("Neue Rechnung eingereicht: %s, %s EUR vom %s (%s). Weitergeleitet an: %s.",
		inv.Provider,
		inv.Amount.StringFixed(2),
		inv.Date.Format("02.01.2006"),
		inv.Category.Label(),
		strings.Join(channels, " und "))
}

type messageAPI struct {
	client *lark.Client
}

func (m *messageAPI) Send(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeChat).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	if resp.Data != nil && resp.Data.MessageId != nil {
		return *resp.Data.MessageId, nil
	}
	return "", nil
}
