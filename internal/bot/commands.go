package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/lottery"
	"sweepstake-bot/internal/settlement"
	"sweepstake-bot/internal/tickets"
)

// Incoming is a chat message reduced to what the commands need.
type Incoming struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
	Mentions []Mention
}

// Deps wires the command service to the core.
type Deps struct {
	Ledger    *ledger.Ledger
	Lotteries *lottery.Registry
	Issuer    *tickets.Issuer
	Pending   tickets.PendingStore
	// Settle runs one settlement pass; ran is false when a pass is already running.
	Settle       func(ctx context.Context) (report *settlement.Report, ran bool)
	IsAdmin      func(int64) bool
	GrantTimeout time.Duration
	WithdrawMin  decimal.Decimal
	Renderer     Renderer
	Logger       *zap.Logger
	Now          func() time.Time
}

// Service answers commands. It knows nothing about Telegram transport.
type Service struct {
	d Deps
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.GrantTimeout <= 0 {
		d.GrantTimeout = tickets.DefaultGrantTimeout
	}
	if d.Pending == nil {
		d.Pending = tickets.NewMemoryPendingStore(d.Now)
	}
	if d.IsAdmin == nil {
		d.IsAdmin = func(int64) bool { return false }
	}
	return &Service{d: d}
}

const genericError = "Something went wrong, please try again later."

// Handle returns the reply for in, or "" when the message needs none.
func (s *Service) Handle(ctx context.Context, in Incoming) string {
	if in.UserID != 0 {
		if _, err := s.d.Ledger.EnsureUser(ctx, in.UserID, in.Username); err != nil {
			s.d.Logger.Error("failed to register user", zap.Int64("user_id", in.UserID), zap.Error(err))
			return genericError
		}
	}

	cmd, args := parseCommand(in.Text)
	if cmd == "" {
		return s.completeGrant(ctx, in)
	}

	switch cmd {
	case "start", "help":
		return s.d.Renderer.Help(s.d.IsAdmin(in.UserID))
	case "newlottery":
		return s.newLottery(ctx, in, args)
	case "view":
		return s.view(ctx, args)
	case "list":
		return s.list(ctx)
	case "history":
		return s.history(ctx)
	case "buy":
		return s.buy(ctx, in, args)
	case "tickets":
		return s.tickets(ctx, in, args)
	case "wallet":
		return s.wallet(ctx, in)
	case "deposit":
		return s.deposit(ctx, in, args)
	case "withdraw":
		return s.withdraw(ctx, in)
	case "grant":
		return s.grant(ctx, in, args)
	case "settle":
		return s.settle(ctx, in)
	}
	return ""
}

func (s *Service) fail(op string, in Incoming, err error) string {
	s.d.Logger.Error("command failed",
		zap.String("command", op),
		zap.Int64("user_id", in.UserID),
		zap.Int64("chat_id", in.ChatID),
		zap.Error(err))
	return genericError
}

func (s *Service) newLottery(ctx context.Context, in Incoming, args []string) string {
	if !s.d.IsAdmin(in.UserID) {
		return "Only admins can create lotteries."
	}
	p, err := parseCreateArgs(args)
	if err != nil {
		return fmt.Sprintf("%s\nUsage: %s", err.Error(),
			code(`/newlottery "NAME" BLOCK [PRICE] [min=N] [max=N] [winners=N] [whitelist] [guaranteed]`))
	}
	l, err := s.d.Lotteries.Create(ctx, p)
	switch {
	case err == nil:
		return s.d.Renderer.Created(l)
	case errors.Is(err, lottery.ErrDuplicateName):
		return fmt.Sprintf("Lottery %s already exists, choose a different name.", bold(p.Name))
	case errors.Is(err, lottery.ErrBlockAlreadyPassed):
		return fmt.Sprintf("Block %d already passed, choose a different block.", p.StrikeBlock)
	case errors.Is(err, lottery.ErrInvalidName), errors.Is(err, lottery.ErrInvalidRange),
		errors.Is(err, lottery.ErrInvalidPrice), errors.Is(err, lottery.ErrInvalidWinners):
		return "Invalid lottery: " + strings.TrimPrefix(err.Error(), "lottery: ")
	}
	return s.fail("newlottery", in, err)
}

// inputError is a user facing parse failure.
type inputError string

func (e inputError) Error() string { return string(e) }

func parseCreateArgs(args []string) (lottery.CreateParams, error) {
	var p lottery.CreateParams
	if len(args) < 2 {
		return p, inputError("Wrong syntax.")
	}
	p.Name = args[0]
	block, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return p, inputError(fmt.Sprintf("Invalid block number %q.", args[1]))
	}
	p.StrikeBlock = block

	for i, arg := range args[2:] {
		key, value, hasValue := strings.Cut(strings.ToLower(arg), "=")
		switch {
		case i == 0 && !hasValue && key != "whitelist" && key != "guaranteed":
			price, err := decimal.NewFromString(arg)
			if err != nil {
				return p, inputError(fmt.Sprintf("Invalid ticket price %q.", arg))
			}
			p.Price = &price
		case key == "price" && hasValue:
			price, err := decimal.NewFromString(value)
			if err != nil {
				return p, inputError(fmt.Sprintf("Invalid ticket price %q.", value))
			}
			p.Price = &price
		case key == "min" && hasValue, key == "max" && hasValue:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return p, inputError(fmt.Sprintf("Invalid %s number %q.", key, value))
			}
			if key == "min" {
				p.MinNumber = &n
			} else {
				p.MaxNumber = &n
			}
		case key == "winners" && hasValue:
			n, err := strconv.Atoi(value)
			if err != nil {
				return p, inputError(fmt.Sprintf("Invalid winners count %q.", value))
			}
			p.Winners = &n
		case key == "whitelist" && !hasValue:
			p.Whitelisted = true
		case key == "guaranteed" && !hasValue:
			p.Guaranteed = true
		default:
			return p, inputError(fmt.Sprintf("Unknown option %q.", arg))
		}
	}
	return p, nil
}

func lotteryName(args []string) (string, bool) {
	args = withoutMentions(args)
	if len(args) == 0 {
		return "", false
	}
	return strings.Join(args, " "), true
}

func (s *Service) view(ctx context.Context, args []string) string {
	name, ok := lotteryName(args)
	if !ok {
		return "Usage: " + code(`/view "NAME"`)
	}
	snap, err := s.d.Lotteries.Snapshot(ctx, name)
	if errors.Is(err, lottery.ErrNotFound) {
		return fmt.Sprintf("Lottery %s doesn't exist.", bold(name))
	}
	if err != nil {
		return s.fail("view", Incoming{}, err)
	}
	return s.d.Renderer.Snapshot(snap)
}

func (s *Service) list(ctx context.Context) string {
	active, err := s.d.Lotteries.ListActive(ctx)
	if err != nil {
		return s.fail("list", Incoming{}, err)
	}
	return s.d.Renderer.Active(active)
}

func (s *Service) history(ctx context.Context) string {
	ended, err := s.d.Lotteries.ListRecentHistory(ctx, 10)
	if err != nil {
		return s.fail("history", Incoming{}, err)
	}
	return s.d.Renderer.History(ended)
}

func (s *Service) buy(ctx context.Context, in Incoming, args []string) string {
	name, ok := lotteryName(args)
	if !ok {
		return "Usage: " + code(`/buy "NAME"`)
	}
	ticket, balance, err := s.d.Issuer.Buy(ctx, in.UserID, name)
	if err == nil {
		return s.d.Renderer.Bought(ticket, balance)
	}
	var funds *ledger.FundsError
	switch {
	case errors.As(err, &funds):
		return fmt.Sprintf("Not enough points: you have %s and a ticket costs %s.",
			code(formatPoints(funds.Balance)), code(formatPoints(funds.Required)))
	case errors.Is(err, lottery.ErrNotFound):
		return fmt.Sprintf("Lottery %s doesn't exist.", bold(name))
	case errors.Is(err, tickets.ErrSalesClosed):
		return fmt.Sprintf("Tickets for %s can't be bought because it's close to the strike date.", bold(name))
	case errors.Is(err, tickets.ErrAlreadyDrawn):
		return fmt.Sprintf("Tickets for %s can't be bought because the winning tickets were already drawn.", bold(name))
	case errors.Is(err, tickets.ErrAlreadyEnded):
		return fmt.Sprintf("Tickets for %s can't be bought because it has ended.", bold(name))
	case errors.Is(err, tickets.ErrWhitelistOnly):
		return fmt.Sprintf("Tickets for %s are granted by admins only.", bold(name))
	case errors.Is(err, tickets.ErrSoldOut):
		return fmt.Sprintf("The last ticket for %s was just sold, sales are closed.", bold(name))
	case errors.Is(err, tickets.ErrCollision):
		return "Another request for this lottery got in the way, please try again."
	}
	return s.fail("buy", in, err)
}

func (s *Service) tickets(ctx context.Context, in Incoming, args []string) string {
	name, ok := lotteryName(args)
	if !ok {
		return "Usage: " + code(`/tickets "NAME"`)
	}
	list, err := s.d.Issuer.UserTickets(ctx, in.UserID, name)
	if errors.Is(err, lottery.ErrNotFound) {
		return fmt.Sprintf("Lottery %s doesn't exist.", bold(name))
	}
	if err != nil {
		return s.fail("tickets", in, err)
	}
	return s.d.Renderer.UserTickets(name, list)
}

func (s *Service) wallet(ctx context.Context, in Incoming) string {
	balance, err := s.d.Ledger.Balance(ctx, in.UserID)
	if err != nil {
		return s.fail("wallet", in, err)
	}
	return s.d.Renderer.Wallet(balance)
}

func (s *Service) deposit(ctx context.Context, in Incoming, args []string) string {
	if !s.d.IsAdmin(in.UserID) {
		return "To deposit, send points to this bot with the points bot. An admin credits your wallet once the transfer arrives."
	}
	rest := withoutMentions(args)
	if len(in.Mentions) != 1 || len(rest) == 0 {
		return "Usage: " + code("/deposit @user AMOUNT")
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(rest[len(rest)-1], ",", ""))
	if err != nil || !amount.IsPositive() {
		return fmt.Sprintf("Invalid amount %q.", rest[len(rest)-1])
	}
	amount = amount.Round(2)

	targets, unknown, err := s.resolve(ctx, in.Mentions)
	if err != nil {
		return s.fail("deposit", in, err)
	}
	if len(unknown) > 0 {
		return fmt.Sprintf("I don't know %s yet, they need to message me first.", escapeList(unknown))
	}
	if err := s.d.Ledger.Credit(ctx, targets[0], amount); err != nil {
		return s.fail("deposit", in, err)
	}
	balance, err := s.d.Ledger.Balance(ctx, targets[0])
	if err != nil {
		return s.fail("deposit", in, err)
	}
	s.d.Logger.Info("deposit credited",
		zap.Int64("admin_id", in.UserID),
		zap.Int64("user_id", targets[0]),
		zap.String("amount", amount.StringFixed(2)))
	return fmt.Sprintf("Credited %s points to %s, balance is now %s.",
		formatPoints(amount), mention(targets[0], in.Mentions[0].Username), code(formatPoints(balance)))
}

func (s *Service) withdraw(ctx context.Context, in Incoming) string {
	amount, err := s.d.Ledger.Withdraw(ctx, in.UserID, s.d.WithdrawMin)
	var funds *ledger.FundsError
	if errors.As(err, &funds) {
		return fmt.Sprintf("The minimum withdrawal is %s points, you have %s.",
			formatPoints(funds.Required), code(formatPoints(funds.Balance)))
	}
	if err != nil {
		return s.fail("withdraw", in, err)
	}
	s.d.Logger.Info("withdrawal", zap.Int64("user_id", in.UserID), zap.String("amount", amount.StringFixed(2)))
	return s.d.Renderer.Withdrawal(in.UserID, ledger.NormalizeUsername(in.Username), amount)
}

func (s *Service) grant(ctx context.Context, in Incoming, args []string) string {
	if !s.d.IsAdmin(in.UserID) {
		return "Only admins can grant tickets."
	}
	name, ok := lotteryName(args)
	if !ok {
		return "Usage: " + code(`/grant "NAME" [@user ...]`)
	}
	if _, err := s.d.Lotteries.Get(ctx, name); errors.Is(err, lottery.ErrNotFound) {
		return fmt.Sprintf("Lottery %s doesn't exist.", bold(name))
	} else if err != nil {
		return s.fail("grant", in, err)
	}

	if len(in.Mentions) > 0 {
		return s.issueGrant(ctx, in, name, in.Mentions)
	}
	err := s.d.Pending.Put(ctx, tickets.PendingGrant{
		AdminID:   in.UserID,
		ChatID:    in.ChatID,
		Lottery:   name,
		StartedAt: s.d.Now(),
	}, s.d.GrantTimeout)
	if err != nil {
		return s.fail("grant", in, err)
	}
	return fmt.Sprintf("Mention the users who get a ticket for %s in your next message. I'll wait %s.",
		bold(name), s.d.GrantTimeout.Round(time.Second))
}

// completeGrant consumes a pending grant of the sender, if any. Messages without
// a pending grant are ignored.
func (s *Service) completeGrant(ctx context.Context, in Incoming) string {
	if !s.d.IsAdmin(in.UserID) {
		return ""
	}
	pending, err := s.d.Pending.Take(ctx, in.UserID, in.ChatID)
	if err != nil {
		s.d.Logger.Warn("failed to load pending grant", zap.Int64("admin_id", in.UserID), zap.Error(err))
		return ""
	}
	if pending == nil {
		return ""
	}
	if len(in.Mentions) == 0 {
		return fmt.Sprintf("No users mentioned, grant for %s cancelled.", bold(pending.Lottery))
	}
	return s.issueGrant(ctx, in, pending.Lottery, in.Mentions)
}

func (s *Service) issueGrant(ctx context.Context, in Incoming, name string, mentions []Mention) string {
	targets, unknown, err := s.resolve(ctx, mentions)
	if err != nil {
		return s.fail("grant", in, err)
	}
	if len(unknown) > 0 {
		return fmt.Sprintf("I don't know %s yet, they need to message me first. Nothing was granted.", escapeList(unknown))
	}

	issued, err := s.d.Issuer.Grant(ctx, in.UserID, name, targets)
	switch {
	case err == nil:
		usernames := map[int64]string{}
		for i, m := range mentions {
			usernames[targets[i]] = ledger.NormalizeUsername(m.Username)
		}
		s.d.Logger.Info("tickets granted", zap.Int64("admin_id", in.UserID), zap.String("lottery", name), zap.Int("count", len(issued)))
		return s.d.Renderer.Granted(name, issued, usernames)
	case errors.Is(err, tickets.ErrSoldOut):
		return fmt.Sprintf("Not enough numbers left in %s for %d tickets, nothing was granted and sales are closed.", bold(name), len(targets))
	case errors.Is(err, lottery.ErrNotFound):
		return fmt.Sprintf("Lottery %s doesn't exist.", bold(name))
	case errors.Is(err, tickets.ErrSalesClosed), errors.Is(err, tickets.ErrAlreadyDrawn), errors.Is(err, tickets.ErrAlreadyEnded):
		return fmt.Sprintf("Tickets for %s can no longer be issued.", bold(name))
	case errors.Is(err, tickets.ErrCollision):
		return "A ticket number was taken concurrently, nothing was granted. Please try again."
	}
	return s.fail("grant", in, err)
}

// resolve maps mentions to user ids in order. Usernames never seen by the bot are
// returned in unknown.
func (s *Service) resolve(ctx context.Context, mentions []Mention) (ids []int64, unknown []string, err error) {
	for _, m := range mentions {
		if m.UserID != 0 {
			if _, err := s.d.Ledger.EnsureUser(ctx, m.UserID, m.Username); err != nil {
				return nil, nil, err
			}
			ids = append(ids, m.UserID)
			continue
		}
		id, err := s.d.Ledger.FindByUsername(ctx, m.Username)
		if errors.Is(err, ledger.ErrUserNotFound) {
			unknown = append(unknown, "@"+m.Username)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	return ids, unknown, nil
}

func (s *Service) settle(ctx context.Context, in Incoming) string {
	if !s.d.IsAdmin(in.UserID) {
		return "Only admins can run settlement."
	}
	if s.d.Settle == nil {
		return "Settlement is not available."
	}
	report, ran := s.d.Settle(ctx)
	if !ran {
		return "A settlement pass is already running, try again shortly."
	}
	if report == nil {
		return "Settlement pass failed, see the logs."
	}
	return s.d.Renderer.SettleReport(report)
}
