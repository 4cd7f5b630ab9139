package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// LogFetcher fetches and parses one UTC day of a builder's published fill
// log. The production implementation (HTTP GET against the exchange's
// stats endpoint, then ParseBuilderLogCSV) is an external collaborator out
// of scope here; tests use a fake.
type LogFetcher interface {
	FetchAndParseDay(ctx context.Context, builder money.Address, yyyymmdd string) ([]BuilderLogFill, error)
}

// Matcher decides per-fill builder attribution for a configured target
// builder and mode.
type Matcher struct {
	mode    Mode
	builder money.Address
	fetcher LogFetcher
	log     *logrus.Logger
}

func New(mode Mode, builder money.Address, fetcher LogFetcher, log *logrus.Logger) *Matcher {
	return &Matcher{mode: mode, builder: builder, fetcher: fetcher, log: log}
}

// Attribute decides attribution for every fill, grouping Logs/Auto work by
// the UTC day each fill falls on so each day's log is fetched once.
func (m *Matcher) Attribute(ctx context.Context, fills []ledger.Fill) ([]ledger.Attribution, error) {
	switch m.mode {
	case ModeHeuristic:
		return m.attributeHeuristic(fills), nil
	case ModeLogs:
		return m.attributeLogsOrAuto(ctx, fills, false)
	case ModeAuto:
		return m.attributeLogsOrAuto(ctx, fills, true)
	default:
		return nil, ledger.BadRequest(fmt.Sprintf("attribution: unknown mode %q", m.mode))
	}
}

func (m *Matcher) attributeHeuristic(fills []ledger.Fill) []ledger.Attribution {
	out := make([]ledger.Attribution, len(fills))
	for i, f := range fills {
		attributed := f.BuilderFee != nil && f.BuilderFee.IsPositive()
		out[i] = ledger.Attribution{
			FillKey:    f.FillKey,
			Attributed: attributed,
			Mode:       ledger.ModeHeuristic,
			Confidence: ledger.ConfidenceLow,
		}
	}
	return out
}

func (m *Matcher) attributeLogsOrAuto(ctx context.Context, fills []ledger.Fill, autoFallback bool) ([]ledger.Attribution, error) {
	byDay := groupByUTCDay(fills)

	out := make([]ledger.Attribution, 0, len(fills))
	for day, dayFills := range byDay {
		rows, err := m.fetcher.FetchAndParseDay(ctx, m.builder, day)
		if err != nil {
			if !autoFallback {
				return nil, ledger.BuilderLogs(fmt.Sprintf("fetch builder log for %s", day), err)
			}
			m.log.WithError(err).WithField("day", day).Warn("attribution: builder log fetch failed, degrading to heuristic for this day")
			out = append(out, m.attributeHeuristic(dayFills)...)
			continue
		}
		idx := newLogsIndex(rows)
		for _, f := range dayFills {
			out = append(out, m.attributeOne(f, idx))
		}
	}
	return out, nil
}

func (m *Matcher) attributeOne(f ledger.Fill, idx *logsIndex) ledger.Attribution {
	builder := m.builder
	if _, ok := idx.matchExact(f); ok {
		return ledger.Attribution{FillKey: f.FillKey, Attributed: true, Mode: ledger.ModeLogs, Confidence: ledger.ConfidenceExact, Builder: &builder}
	}
	if _, ok := idx.matchFuzzy(f); ok {
		return ledger.Attribution{FillKey: f.FillKey, Attributed: true, Mode: ledger.ModeLogs, Confidence: ledger.ConfidenceFuzzy, Builder: &builder}
	}
	return ledger.Attribution{FillKey: f.FillKey, Attributed: false, Mode: ledger.ModeLogs, Confidence: ledger.ConfidenceExact}
}

// groupByUTCDay buckets fills by the UTC calendar day (YYYYMMDD) their
// time_ms falls on, so the matcher fetches each day's builder log once.
func groupByUTCDay(fills []ledger.Fill) map[string][]ledger.Fill {
	out := make(map[string][]ledger.Fill)
	for _, f := range fills {
		day := time.UnixMilli(int64(f.TimeMs)).UTC().Format("20060102")
		out[day] = append(out[day], f)
	}
	return out
}
