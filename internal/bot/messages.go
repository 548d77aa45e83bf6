package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/models"
	"sweepstake-bot/internal/settlement"
)

const dateLayout = "2006-01-02 15:04"

// Renderer formats replies and announcements as Telegram HTML.
type Renderer struct {
	ExplorerBaseURL string
}

func formatPoints(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}

func code(s string) string {
	return "<code>" + html.EscapeString(s) + "</code>"
}

func escapeList(items []string) string {
	return html.EscapeString(strings.Join(items, ", "))
}

func bold(s string) string {
	return "<b>" + html.EscapeString(s) + "</b>"
}

// mention links to a user by id; label falls back to the id.
func mention(userID int64, username string) string {
	label := "@" + username
	if username == "" {
		label = strconv.FormatInt(userID, 10)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(label))
}

func (r Renderer) blockLink(block uint64) string {
	return fmt.Sprintf(`<a href="%s/block/%d">%d</a>`, r.base(), block, block)
}

func (r Renderer) countdownLink(l *models.Lottery) string {
	return fmt.Sprintf(`<a href="%s/block/countdown/%d">%s UTC</a>`,
		r.base(), l.StrikeEthBlock, l.StrikeDateETA.UTC().Format(dateLayout))
}

func (r Renderer) base() string {
	base := strings.TrimRight(r.ExplorerBaseURL, "/")
	if base == "" {
		return "https://etherscan.io"
	}
	return base
}

func statusLabel(s models.LotteryStatus) string {
	switch s {
	case models.StatusStarted:
		return "on sale"
	case models.StatusStopSales:
		return "sales closed"
	case models.StatusStriked:
		return "drawn"
	case models.StatusEnded:
		return "ended"
	}
	return string(s)
}

func joinNumbers(numbers []int64) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ", ")
}

func (r Renderer) Created(l *models.Lottery) string {
	return fmt.Sprintf("✅ Created lottery %s, strikes at block %s, estimated %s.",
		bold(l.Name), r.blockLink(l.StrikeEthBlock), r.countdownLink(l))
}

func (r Renderer) Snapshot(s *lottery.Snapshot) string {
	l := &s.Lottery
	var b strings.Builder
	fmt.Fprintf(&b, "🎟 %s\n", bold(l.Name))
	fmt.Fprintf(&b, "Status: %s\n", statusLabel(l.Status))
	fmt.Fprintf(&b, "Ticket price: %s points\n", formatPoints(l.TicketPrice))
	fmt.Fprintf(&b, "Ticket numbers: %d to %d\n", l.TicketMinNumber, l.TicketMaxNumber)
	fmt.Fprintf(&b, "Winning tickets: %d\n", l.NumberOfWinningTickets)
	fmt.Fprintf(&b, "Strike ETH block: %s\n", r.blockLink(l.StrikeEthBlock))
	fmt.Fprintf(&b, "Strike date (estimated): %s\n", r.countdownLink(l))
	fmt.Fprintf(&b, "Tickets sold: %d\n", s.TicketsSold)
	fmt.Fprintf(&b, "Prize pool: %s points", formatPoints(s.Prize()))
	if s.CarriedPool.IsPositive() {
		fmt.Fprintf(&b, " (%s carried over)", formatPoints(s.CarriedPool))
	}
	if l.IsWhitelisted {
		b.WriteString("\nTickets are granted by admins only.")
	}
	if l.GuaranteedWinner {
		b.WriteString("\nA sold ticket is guaranteed to win.")
	}
	if len(l.WinningTickets) > 0 {
		fmt.Fprintf(&b, "\nWinning numbers: %s", code(joinNumbers(l.WinningTickets)))
	}
	return b.String()
}

func (r Renderer) Active(list []models.Lottery) string {
	if len(list) == 0 {
		return "There are no active lotteries right now."
	}
	var b strings.Builder
	b.WriteString("🎰 Active lotteries:")
	for i := range list {
		l := &list[i]
		fmt.Fprintf(&b, "\n• %s: ticket price %s points, %s, strikes %s",
			bold(l.Name), formatPoints(l.TicketPrice), statusLabel(l.Status), r.countdownLink(l))
	}
	return b.String()
}

func (r Renderer) History(list []models.Lottery) string {
	if len(list) == 0 {
		return "No lottery has ended yet."
	}
	var b strings.Builder
	b.WriteString("📜 Recent results:")
	for i := range list {
		l := &list[i]
		fmt.Fprintf(&b, "\n• %s: block %s, winning numbers %s", bold(l.Name), r.blockLink(l.StrikeEthBlock), code(joinNumbers(l.WinningTickets)))
	}
	return b.String()
}

func (r Renderer) Bought(t *models.Ticket, balance decimal.Decimal) string {
	return fmt.Sprintf("🎟 You bought ticket number %s, your balance is %s points.",
		code(strconv.FormatInt(t.TicketNumber, 10)), code(formatPoints(balance)))
}

func (r Renderer) UserTickets(name string, list []models.Ticket) string {
	if len(list) == 0 {
		return fmt.Sprintf("You have no tickets for %s.", bold(name))
	}
	numbers := make([]int64, len(list))
	for i, t := range list {
		numbers[i] = t.TicketNumber
	}
	return fmt.Sprintf("You have %d tickets for %s: %s", len(list), bold(name), code(joinNumbers(numbers)))
}

func (r Renderer) Wallet(balance decimal.Decimal) string {
	return fmt.Sprintf("💰 Your balance is %s points.", code(formatPoints(balance)))
}

// Withdrawal is the transfer line the points bot acts on.
func (r Renderer) Withdrawal(userID int64, username string, amount decimal.Decimal) string {
	return fmt.Sprintf("!send %s %s", mention(userID, username), formatPoints(amount))
}

func (r Renderer) Granted(name string, issued []models.Ticket, usernames map[int64]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎁 Granted %d tickets for %s:", len(issued), bold(name))
	for _, t := range issued {
		fmt.Fprintf(&b, "\n• %s: %s", mention(t.UserID, usernames[t.UserID]), code(strconv.FormatInt(t.TicketNumber, 10)))
	}
	return b.String()
}

func (r Renderer) SettleReport(rep *settlement.Report) string {
	if rep.Empty() {
		return "Settlement pass finished, nothing to do."
	}
	var b strings.Builder
	b.WriteString("Settlement pass finished.")
	if len(rep.Stopped) > 0 {
		fmt.Fprintf(&b, "\nSales stopped: %s", html.EscapeString(strings.Join(rep.Stopped, ", ")))
	}
	if len(rep.Struck) > 0 {
		fmt.Fprintf(&b, "\nDrawn: %s", html.EscapeString(strings.Join(rep.Struck, ", ")))
	}
	if len(rep.Ended) > 0 {
		fmt.Fprintf(&b, "\nEnded: %s", html.EscapeString(strings.Join(rep.Ended, ", ")))
	}
	for _, d := range rep.Deferred {
		fmt.Fprintf(&b, "\nDeferred %s (%s): %s", bold(d.Lottery), d.Stage, html.EscapeString(d.Err.Error()))
	}
	return b.String()
}

// Notification renders a settlement announcement for the group chat.
func (r Renderer) Notification(n settlement.Notification, usernames map[int64]string) string {
	switch n.Kind {
	case settlement.KindSalesStopped:
		return fmt.Sprintf("⏳ Ticket sales for %s are closed, the draw is near.", bold(n.Lottery))
	case settlement.KindStriked:
		return fmt.Sprintf("🎲 %s was drawn from block %s (hash %s).\nWinning numbers: %s",
			bold(n.Lottery), r.blockLink(n.Block), code(n.BlockHash), code(joinNumbers(n.WinningTickets)))
	case settlement.KindNoWinners:
		return fmt.Sprintf("😶 Nobody holds a winning ticket of %s (%s). Its %s points roll over to the next lottery with a winner.",
			bold(n.Lottery), code(joinNumbers(n.WinningTickets)), formatPoints(n.Prize))
	case settlement.KindWinners:
		var b strings.Builder
		fmt.Fprintf(&b, "🏆 %s has %d winners sharing %s points", bold(n.Lottery), len(n.Winners), formatPoints(n.Prize))
		if n.CarriedOver.IsPositive() {
			fmt.Fprintf(&b, " (including %s carried over)", formatPoints(n.CarriedOver))
		}
		b.WriteString(":")
		for _, w := range n.Winners {
			fmt.Fprintf(&b, "\n• %s wins %s points with %s",
				mention(w.UserID, usernames[w.UserID]), formatPoints(w.Amount), code(joinNumbers(w.Tickets)))
		}
		return b.String()
	}
	return ""
}

func (r Renderer) Help(admin bool) string {
	var b strings.Builder
	b.WriteString("🎰 Sweepstake commands:\n")
	b.WriteString("/list - active lotteries\n")
	b.WriteString("/history - results of previous lotteries\n")
	b.WriteString("/view \"NAME\" - lottery information\n")
	b.WriteString("/buy \"NAME\" - buy a ticket\n")
	b.WriteString("/tickets \"NAME\" - my tickets\n")
	b.WriteString("/wallet - my balance\n")
	b.WriteString("/deposit - how to deposit points\n")
	b.WriteString("/withdraw - withdraw my whole balance")
	if admin {
		b.WriteString("\n\nAdmin commands:\n")
		b.WriteString("/newlottery \"NAME\" BLOCK [PRICE] [min=N] [max=N] [winners=N] [whitelist] [guaranteed]\n")
		b.WriteString("/grant \"NAME\" [@user ...] - grant free tickets\n")
		b.WriteString("/deposit @user AMOUNT - credit a deposit\n")
		b.WriteString("/settle - run a settlement pass now")
	}
	return b.String()
}
