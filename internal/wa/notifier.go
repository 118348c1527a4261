package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"refcommission/internal/metrics"
	"refcommission/internal/repo"

	"go.mau.fi/whatsmeow/types"
)

// Sender delivers a text message to one recipient.
type Sender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Notifier formats admin alerts and fans them out to every admin JID.
type Notifier struct {
	sender  Sender
	admins  []types.JID
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier builds a notifier over sender.
func NewNotifier(sender Sender, admins []types.JID, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		admins:  admins,
		metrics: m,
		logger:  logger.With("component", "wa_notifier"),
	}
}

// PurchaseCreated alerts admins that a purchase awaits payment review.
func (n *Notifier) PurchaseCreated(ctx context.Context, user repo.User, pkg repo.Package, p repo.Purchase) error {
	return n.broadcast(ctx, "purchase", FormatPurchase(user, pkg, p))
}

// WithdrawalRequested alerts admins that a withdrawal awaits review.
func (n *Notifier) WithdrawalRequested(ctx context.Context, user repo.User, w repo.Withdrawal) error {
	return n.broadcast(ctx, "withdrawal", FormatWithdrawal(user, w))
}

func (n *Notifier) broadcast(ctx context.Context, kind, text string) error {
	var errs []error
	for _, jid := range n.admins {
		if err := n.sender.SendText(ctx, jid, text); err != nil {
			n.logger.Warn("admin alert failed", "type", kind, "to", jid.String(), "error", err)
			n.count(kind, "error")
			errs = append(errs, err)
			continue
		}
		n.count(kind, "sent")
	}
	return errors.Join(errs...)
}

func (n *Notifier) count(kind, status string) {
	if n.metrics != nil {
		n.metrics.NotificationsDelivered.WithLabelValues(kind, status).Inc()
	}
}

// FormatPurchase renders the new-purchase alert.
func FormatPurchase(user repo.User, pkg repo.Package, p repo.Purchase) string {
	var b strings.Builder
	b.WriteString("*New package purchase*\n")
	fmt.Fprintf(&b, "User: %s (%s)\n", user.ID, user.ReferralCode)
	fmt.Fprintf(&b, "Package: %s, %s %s\n", pkg.Name, pkg.Price.StringFixed(2), pkg.Currency)
	fmt.Fprintf(&b, "Transaction: %s\n", p.TransactionID)
	fmt.Fprintf(&b, "Sender: %s\n", p.SenderNumber)
	fmt.Fprintf(&b, "Purchase id: %s", p.ID)
	return b.String()
}

// FormatWithdrawal renders the withdrawal-request alert.
func FormatWithdrawal(user repo.User, w repo.Withdrawal) string {
	var b strings.Builder
	b.WriteString("*New withdrawal request*\n")
	fmt.Fprintf(&b, "User: %s (%s)\n", user.ID, user.ReferralCode)
	fmt.Fprintf(&b, "Requested: %s %s\n", w.RequestedAmount.StringFixed(2), user.Currency)
	fmt.Fprintf(&b, "Payout: %s %s (deduction %d%%)\n", w.Amount.StringFixed(2), user.Currency, w.DeductionPercent)
	fmt.Fprintf(&b, "Account: %s / %s\n", w.AccountName, w.AccountNumber)
	fmt.Fprintf(&b, "Withdrawal id: %s", w.ID)
	return b.String()
}
