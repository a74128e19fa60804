package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
	"github.com/amsorrytola/HedgeCraft/internal/notify"
	"github.com/amsorrytola/HedgeCraft/internal/pipeline"
)

// Demo tokens: WETH and USDC on Base.
const (
	demoBaseAsset  = "0x4200000000000000000000000000000000000006"
	demoQuoteAsset = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

// DemoMode runs one scripted position lifecycle against the sim venues:
// open, accrue and collect fees, dip the price, estimate the loss, close.
// It then prints the event trail and the position table and exits.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	if deps.SimLedger == nil || deps.SimYields == nil || deps.SimSwaps == nil || deps.Engine == nil {
		return fmt.Errorf("demo mode: sim venues not wired")
	}
	a.logger.InfoContext(ctx, "starting demo mode")

	operator := common.HexToAddress(a.cfg.Operator)
	base := common.HexToAddress(demoBaseAsset)
	quote := common.HexToAddress(demoQuoteAsset)

	price := liquidity.WadFromFloat(a.cfg.Venue.Sim.InitialPrice)
	if price.Sign() <= 0 {
		price = new(big.Int).Set(liquidity.WAD)
	}
	if err := a.setDemoPrices(deps, base, quote, price); err != nil {
		return fmt.Errorf("demo mode: %w", err)
	}

	deps.SimLedger.Fund(base, operator, wad(1_000))
	deps.SimLedger.Fund(quote, operator, wad(1_000_000))

	// Range straddles the current price at half to double.
	rangeLower := new(big.Int).Quo(price, big.NewInt(2))
	rangeUpper := new(big.Int).Mul(price, big.NewInt(2))

	id, err := deps.Engine.OpenPosition(ctx, operator, base, quote, wad(100), wad(100), rangeLower, rangeUpper)
	if err != nil {
		return fmt.Errorf("demo mode: open position: %w", err)
	}
	a.logger.InfoContext(ctx, "demo position opened", slog.String("position_id", id))

	pos, err := deps.Engine.GetPosition(ctx, operator, id)
	if err != nil {
		return fmt.Errorf("demo mode: load position: %w", err)
	}

	// Let the pool earn something before collecting.
	if err := deps.SimYields.AccrueFees(pos.YieldLegID, liquidity.WadFromFloat(0.3), liquidity.WadFromFloat(0.5)); err != nil {
		return fmt.Errorf("demo mode: accrue fees: %w", err)
	}
	fees0, fees1, err := deps.Engine.CollectFees(ctx, operator, id)
	if err != nil {
		return fmt.Errorf("demo mode: collect fees: %w", err)
	}
	a.logger.InfoContext(ctx, "demo fees collected",
		slog.String("fees0", liquidity.FormatWad(fees0)),
		slog.String("fees1", liquidity.FormatWad(fees1)),
	)

	// Dip the price 4% and see how much of the move the hedge absorbs.
	dipped := liquidity.WadMul(price, liquidity.WadFromFloat(0.96))
	if err := a.setDemoPrices(deps, base, quote, dipped); err != nil {
		return fmt.Errorf("demo mode: %w", err)
	}
	loss, err := deps.Engine.EstimateLoss(ctx, operator, id)
	if err != nil {
		return fmt.Errorf("demo mode: estimate loss: %w", err)
	}
	a.logger.InfoContext(ctx, "demo divergence loss after 4% dip",
		slog.String("estimated_loss", liquidity.FormatWad(loss)),
	)

	if err := deps.Engine.ClosePosition(ctx, operator, id); err != nil {
		return fmt.Errorf("demo mode: close position: %w", err)
	}
	a.logger.InfoContext(ctx, "demo position closed", slog.String("position_id", id))

	a.printEventTrail(ctx, deps)
	if err := a.printPositions(ctx, deps, operator); err != nil {
		return fmt.Errorf("demo mode: %w", err)
	}

	a.logger.InfoContext(ctx, "demo complete",
		slog.String("base_balance", liquidity.FormatWad(deps.SimLedger.Balance(base, operator))),
		slog.String("quote_balance", liquidity.FormatWad(deps.SimLedger.Balance(quote, operator))),
	)
	return nil
}

// EngineMode holds the full stack ready: the engine is wired to live venues,
// position events stream to the console, and the optional watcher and
// archiver run alongside until the context is cancelled.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	if deps.Engine == nil {
		return fmt.Errorf("engine mode: engine not wired")
	}
	a.logger.InfoContext(ctx, "starting engine mode",
		slog.String("venue", a.cfg.Venue.Kind),
		slog.String("storage", a.cfg.Storage.Backend),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.tailEvents(ctx, deps)
	})

	if deps.Notifier.Active() {
		watcher := notify.NewWatcher(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return arch.RunLoop(ctx, interval)
		})
	}

	a.logger.InfoContext(ctx, "engine ready")
	return g.Wait()
}

// WatchMode subscribes to position events and forwards them to the
// configured notification channels. Without any channel it degrades to a
// console tail.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	if !deps.Notifier.Active() {
		a.logger.WarnContext(ctx, "no notification channels configured; events are logged only")
		return a.tailEvents(ctx, deps)
	}

	g, ctx := errgroup.WithContext(ctx)
	watcher := notify.NewWatcher(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		return a.tailEvents(ctx, deps)
	})
	return g.Wait()
}

// PositionsMode prints the operator's positions as a table and exits.
func (a *App) PositionsMode(ctx context.Context, deps *Dependencies) error {
	if deps.Positions == nil {
		return fmt.Errorf("positions mode: no position store wired")
	}
	operator := common.HexToAddress(a.cfg.Operator)
	return a.printPositions(ctx, deps, operator)
}

// ArchiveMode moves closed positions past the retention window to object
// storage. Without a schedule it runs one pass and exits; with one it stays
// up and archives on the cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage not configured")
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)

	if sched := a.cfg.Archive.Schedule; sched != "" {
		return arch.RunCron(ctx, sched)
	}
	if err := arch.Run(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// tailEvents logs every position event so an operator following the console
// sees the same stream the notification channels receive.
func (a *App) tailEvents(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.Bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.EventChannel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				a.logger.WarnContext(ctx, "malformed event payload", slog.String("error", err.Error()))
				continue
			}
			a.logger.InfoContext(ctx, "position event",
				slog.String("type", string(ev.Type)),
				slog.String("position_id", ev.PositionID),
				slog.String("owner", ev.Owner),
				slog.Any("fields", ev.Fields),
			)
		}
	}
}

// setDemoPrices moves the pool price and both swap directions together so
// the venues never disagree about the rate.
func (a *App) setDemoPrices(deps *Dependencies, base, quote common.Address, price *big.Int) error {
	deps.SimYields.SetPrice(price)
	deps.SimSwaps.SetPrice(base, quote, price)
	inverse, err := liquidity.WadDiv(liquidity.WAD, price)
	if err != nil {
		return fmt.Errorf("invert price: %w", err)
	}
	deps.SimSwaps.SetPrice(quote, base, inverse)
	return nil
}

// printEventTrail renders the durable event stream as a table. Read errors
// are logged, not fatal: the lifecycle already completed.
func (a *App) printEventTrail(ctx context.Context, deps *Dependencies) {
	msgs, err := deps.Bus.StreamRead(ctx, domain.EventStream, "0", 64)
	if err != nil {
		a.logger.WarnContext(ctx, "reading event stream failed", slog.String("error", err.Error()))
		return
	}

	fmt.Println()
	fmt.Println("Event trail:")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Event", "Position", "Detail")
	for i, msg := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			continue
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(ev.Type),
			shortID(ev.PositionID),
			eventDetail(ev),
		)
	}
	table.Render()
}

// printPositions renders the owner's positions as a table on stdout.
func (a *App) printPositions(ctx context.Context, deps *Dependencies, owner common.Address) error {
	list, err := deps.Positions.ListByOwner(ctx, owner, domain.ListOpts{Limit: 100})
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	if len(list) == 0 {
		fmt.Printf("no positions for %s\n", owner.Hex())
		return nil
	}

	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Pair", "Liquidity", "Hedge", "Ref Price", "Opened", "Closed")
	for _, pos := range list {
		closed := "-"
		if pos.ClosedAt != nil {
			closed = pos.ClosedAt.UTC().Format(time.RFC3339)
		}
		table.Append(
			shortID(pos.ID),
			string(pos.Status),
			domain.ShortAddr(pos.BaseAsset.Hex())+"/"+domain.ShortAddr(pos.QuoteAsset.Hex()),
			liquidity.FormatWad(pos.YieldLiquidity),
			liquidity.FormatWad(pos.HedgeValue),
			liquidity.FormatWad(pos.ReferencePrice),
			pos.OpenedAt.UTC().Format(time.RFC3339),
			closed,
		)
	}
	table.Render()
	return nil
}

// detailFields is the subset of event fields worth a table column, in
// render order.
var detailFields = []string{
	"amount0", "amount1", "fees0", "fees1",
	"principal", "loan", "hedge_value", "leverage",
}

func eventDetail(ev domain.Event) string {
	var parts []string
	for _, k := range detailFields {
		v, ok := ev.Fields[k]
		if !ok {
			continue
		}
		if n, numeric := new(big.Int).SetString(v, 10); numeric {
			v = liquidity.FormatWad(n)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// wad scales a whole-unit amount to 18 decimals.
func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), liquidity.WAD)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

