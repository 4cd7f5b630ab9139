package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/rawblock/ledger-engine/pkg/ledger"
	"github.com/rawblock/ledger-engine/pkg/money"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the canonical backend: a single SQLite file accessed
// through database/sql and the pure-Go modernc.org/sqlite driver, so the
// engine never requires cgo to build or run.
type SQLiteStore struct {
	db *sql.DB
}

// Open connects to (and, if necessary, creates) the SQLite database at
// path, applies the schema, and tunes the connection pool for a
// single-writer/many-reader workload: WAL so reads don't block behind a
// writer, a bounded busy_timeout so a momentary writer collision blocks
// and retries instead of failing outright, and foreign keys enforced.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(5)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InsertFill(ctx context.Context, f ledger.Fill) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_fills (fill_key, user, coin, time_ms, side, px, sz, fee, closed_pnl, builder_fee, tid, oid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch('now','subsec')*1000)
		ON CONFLICT (fill_key) DO NOTHING`,
		f.FillKey, string(f.User), string(f.Coin), int64(f.TimeMs), string(f.Side),
		f.Px, f.Sz, f.Fee, f.ClosedPnl, nullableDecimal(f.BuilderFee), f.Tid, f.Oid)
	if err != nil {
		return false, fmt.Errorf("repository: insert fill %s: %w", f.FillKey, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) InsertFillsBatch(ctx context.Context, fills []ledger.Fill) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_fills (fill_key, user, coin, time_ms, side, px, sz, fee, closed_pnl, builder_fee, tid, oid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch('now','subsec')*1000)
		ON CONFLICT (fill_key) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("repository: prepare batch insert: %w", err)
	}
	defer stmt.Close()

	newCount := 0
	for _, f := range fills {
		res, err := stmt.ExecContext(ctx, f.FillKey, string(f.User), string(f.Coin), int64(f.TimeMs),
			string(f.Side), f.Px, f.Sz, f.Fee, f.ClosedPnl, nullableDecimal(f.BuilderFee), f.Tid, f.Oid)
		if err != nil {
			return 0, fmt.Errorf("repository: insert fill %s: %w", f.FillKey, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			newCount++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("repository: commit batch insert: %w", err)
	}
	return newCount, nil
}

func (s *SQLiteStore) QueryFills(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Fill, error) {
	q := `SELECT fill_key, user, coin, time_ms, side, px, sz, fee, closed_pnl, builder_fee, tid, oid
		FROM raw_fills WHERE user = ?`
	args := []any{string(user)}
	if coin != nil {
		q += " AND coin = ?"
		args = append(args, string(*coin))
	}
	if from != nil {
		q += " AND time_ms >= ?"
		args = append(args, int64(*from))
	}
	if to != nil {
		q += " AND time_ms <= ?"
		args = append(args, int64(*to))
	}
	q += " ORDER BY time_ms ASC, tid ASC, oid ASC, fill_key ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query fills: %w", err)
	}
	defer rows.Close()
	return scanFills(rows)
}

func (s *SQLiteStore) QueryFillsAfterWatermark(ctx context.Context, user money.Address, coin money.Coin, afterFillKey *string) ([]ledger.Fill, error) {
	q := `SELECT fill_key, user, coin, time_ms, side, px, sz, fee, closed_pnl, builder_fee, tid, oid
		FROM raw_fills WHERE user = ? AND coin = ?`
	args := []any{string(user), string(coin)}
	if afterFillKey != nil {
		q += " AND fill_key > ?"
		args = append(args, *afterFillKey)
	}
	q += " ORDER BY fill_key ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query fills after watermark: %w", err)
	}
	defer rows.Close()
	return scanFillsByFillKey(rows)
}

func (s *SQLiteStore) QueryDistinctCoins(ctx context.Context, user money.Address, from, to *money.TimeMs) ([]money.Coin, error) {
	q := `SELECT DISTINCT coin FROM raw_fills WHERE user = ?`
	args := []any{string(user)}
	if from != nil {
		q += " AND time_ms >= ?"
		args = append(args, int64(*from))
	}
	if to != nil {
		q += " AND time_ms <= ?"
		args = append(args, int64(*to))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query distinct coins: %w", err)
	}
	defer rows.Close()

	var coins []money.Coin
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		coins = append(coins, money.Coin(c))
	}
	return coins, rows.Err()
}

func (s *SQLiteStore) InsertDeposits(ctx context.Context, deposits []ledger.Deposit) (int, error) {
	if len(deposits) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: begin deposit insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deposits (event_key, user, time_ms, amount, tx_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_key) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("repository: prepare deposit insert: %w", err)
	}
	defer stmt.Close()

	newCount := 0
	for _, d := range deposits {
		res, err := stmt.ExecContext(ctx, d.EventKey, string(d.User), int64(d.TimeMs), d.Amount, d.TxHash)
		if err != nil {
			return 0, fmt.Errorf("repository: insert deposit %s: %w", d.EventKey, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			newCount++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("repository: commit deposit insert: %w", err)
	}
	return newCount, nil
}

func (s *SQLiteStore) QueryDeposits(ctx context.Context, user money.Address, from, to *money.TimeMs) ([]ledger.Deposit, error) {
	q := `SELECT event_key, user, time_ms, amount, tx_hash FROM deposits WHERE user = ?`
	args := []any{string(user)}
	if from != nil {
		q += " AND time_ms >= ?"
		args = append(args, int64(*from))
	}
	if to != nil {
		q += " AND time_ms <= ?"
		args = append(args, int64(*to))
	}
	q += " ORDER BY time_ms ASC, event_key ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query deposits: %w", err)
	}
	defer rows.Close()

	var out []ledger.Deposit
	for rows.Next() {
		var d ledger.Deposit
		var user, timeMs any
		var txHash sql.NullString
		if err := rows.Scan(&d.EventKey, &user, &timeMs, &d.Amount, &txHash); err != nil {
			return nil, err
		}
		d.User = money.Address(user.(string))
		d.TimeMs = money.TimeMs(timeMs.(int64))
		if txHash.Valid {
			v := txHash.String
			d.TxHash = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDerivedTablesAtomic upserts a (user, coin) pair's recompiled
// lifecycle, snapshot, and effect rows in one transaction, keyed by their
// primary keys: a lifecycle conflict only sets a non-null end time, a
// snapshot conflict overwrites the row, and an effect conflict is ignored.
// No rows are deleted.
func (s *SQLiteStore) InsertDerivedTablesAtomic(ctx context.Context, user money.Address, coin money.Coin,
	lifecycles []ledger.Lifecycle, snapshots []ledger.Snapshot, effects []ledger.Effect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin derived write: %w", err)
	}
	defer tx.Rollback()

	lcStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO position_lifecycles (id, user, coin, start_time_ms, end_time_ms, is_tainted, taint_reason)
		VALUES (?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT (id) DO UPDATE SET end_time_ms = excluded.end_time_ms
			WHERE excluded.end_time_ms IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("repository: prepare lifecycle upsert: %w", err)
	}
	defer lcStmt.Close()

	for _, lc := range lifecycles {
		var endMs any
		if lc.EndTimeMs != nil {
			endMs = int64(*lc.EndTimeMs)
		}
		if _, err := lcStmt.ExecContext(ctx, lc.ID, string(user), string(coin), int64(lc.StartTimeMs), endMs); err != nil {
			return fmt.Errorf("repository: upsert lifecycle %d: %w", lc.ID, err)
		}
	}

	snapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO position_snapshots (user, coin, time_ms, seq, net_size, avg_entry_px, lifecycle_id, is_tainted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (user, coin, time_ms, seq) DO UPDATE SET
			net_size = excluded.net_size, avg_entry_px = excluded.avg_entry_px, lifecycle_id = excluded.lifecycle_id`)
	if err != nil {
		return fmt.Errorf("repository: prepare snapshot upsert: %w", err)
	}
	defer snapStmt.Close()

	for _, snap := range snapshots {
		if _, err := snapStmt.ExecContext(ctx, string(user), string(coin), int64(snap.TimeMs), snap.Seq,
			snap.NetSize, snap.AvgEntryPx, snap.LifecycleID); err != nil {
			return fmt.Errorf("repository: upsert snapshot: %w", err)
		}
	}

	effStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fill_effects (fill_key, lifecycle_id, effect_type, qty, notional, fee, closed_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fill_key, lifecycle_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("repository: prepare effect insert: %w", err)
	}
	defer effStmt.Close()

	for _, e := range effects {
		if _, err := effStmt.ExecContext(ctx, e.FillKey, e.LifecycleID, string(e.Kind), e.Qty, e.Notional, e.Fee, e.ClosedPnl); err != nil {
			return fmt.Errorf("repository: insert effect for fill %s: %w", e.FillKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit derived write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLifecycleTaints(ctx context.Context, updates []LifecycleTaintUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin taint update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE position_lifecycles SET is_tainted = ?, taint_reason = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("repository: prepare taint update: %w", err)
	}
	defer stmt.Close()

	snapStmt, err := tx.PrepareContext(ctx, `UPDATE position_snapshots SET is_tainted = ? WHERE lifecycle_id = ?`)
	if err != nil {
		return fmt.Errorf("repository: prepare snapshot taint update: %w", err)
	}
	defer snapStmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, boolToInt(u.IsTainted), u.TaintReason, u.LifecycleID); err != nil {
			return fmt.Errorf("repository: update taint for lifecycle %d: %w", u.LifecycleID, err)
		}
		if _, err := snapStmt.ExecContext(ctx, boolToInt(u.IsTainted), u.LifecycleID); err != nil {
			return fmt.Errorf("repository: update snapshot taint for lifecycle %d: %w", u.LifecycleID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertAttributionsFull(ctx context.Context, attrs []ledger.Attribution) error {
	if len(attrs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin attribution upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fill_attributions (fill_key, attributed, mode, confidence, builder)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (fill_key) DO UPDATE SET
			attributed = excluded.attributed, mode = excluded.mode,
			confidence = excluded.confidence, builder = excluded.builder`)
	if err != nil {
		return fmt.Errorf("repository: prepare attribution upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attrs {
		var builder any
		if a.Builder != nil {
			builder = string(*a.Builder)
		}
		if _, err := stmt.ExecContext(ctx, a.FillKey, boolToInt(a.Attributed), string(a.Mode), string(a.Confidence), builder); err != nil {
			return fmt.Errorf("repository: upsert attribution for fill %s: %w", a.FillKey, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) QueryAttributionsFull(ctx context.Context, fillKeys []string) (map[string]ledger.Attribution, error) {
	out := make(map[string]ledger.Attribution, len(fillKeys))
	for _, chunk := range chunkStrings(fillKeys) {
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		q := fmt.Sprintf(`SELECT fill_key, attributed, mode, confidence, builder FROM fill_attributions WHERE fill_key IN (%s)`, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("repository: query attributions: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var a ledger.Attribution
				var attributed int
				var builder sql.NullString
				if err := rows.Scan(&a.FillKey, &attributed, &a.Mode, &a.Confidence, &builder); err != nil {
					return err
				}
				a.Attributed = attributed != 0
				if builder.Valid {
					b := money.Address(builder.String)
					a.Builder = &b
				}
				out[a.FillKey] = a
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) QueryTaintedLifecycleIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, chunk := range chunkInt64s(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := fmt.Sprintf(`SELECT id, is_tainted FROM position_lifecycles WHERE id IN (%s)`, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("repository: query tainted lifecycle ids: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var id int64
				var tainted int
				if err := rows.Scan(&id, &tainted); err != nil {
					return err
				}
				out[id] = tainted != 0
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) QueryLifecycleTaintStates(ctx context.Context, ids []int64) (map[int64]LifecycleTaintState, error) {
	out := make(map[int64]LifecycleTaintState, len(ids))
	for _, chunk := range chunkInt64s(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := fmt.Sprintf(`SELECT id, is_tainted, taint_reason FROM position_lifecycles WHERE id IN (%s)`, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("repository: query lifecycle taint states: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var id int64
				var tainted int
				var reason sql.NullString
				if err := rows.Scan(&id, &tainted, &reason); err != nil {
					return err
				}
				st := LifecycleTaintState{IsTainted: tainted != 0}
				if reason.Valid {
					r := reason.String
					st.TaintReason = &r
				}
				out[id] = st
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) QuerySnapshots(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Snapshot, error) {
	q := `SELECT user, coin, time_ms, seq, net_size, avg_entry_px, lifecycle_id, is_tainted
		FROM position_snapshots WHERE user = ?`
	args := []any{string(user)}
	if coin != nil {
		q += " AND coin = ?"
		args = append(args, string(*coin))
	}
	if from != nil {
		q += " AND time_ms >= ?"
		args = append(args, int64(*from))
	}
	if to != nil {
		q += " AND time_ms <= ?"
		args = append(args, int64(*to))
	}
	q += " ORDER BY time_ms ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query snapshots: %w", err)
	}
	defer rows.Close()

	var out []ledger.Snapshot
	for rows.Next() {
		var snap ledger.Snapshot
		var u, c string
		var t int64
		var tainted int
		if err := rows.Scan(&u, &c, &t, &snap.Seq, &snap.NetSize, &snap.AvgEntryPx, &snap.LifecycleID, &tainted); err != nil {
			return nil, err
		}
		snap.User, snap.Coin, snap.TimeMs, snap.IsTainted = money.Address(u), money.Coin(c), money.TimeMs(t), tainted != 0
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryEffects(ctx context.Context, user money.Address, coin *money.Coin, from, to *money.TimeMs) ([]ledger.Effect, error) {
	q := `SELECT e.fill_key, e.lifecycle_id, e.effect_type, e.qty, e.notional, e.fee, e.closed_pnl
		FROM fill_effects e JOIN raw_fills f ON f.fill_key = e.fill_key WHERE f.user = ?`
	args := []any{string(user)}
	if coin != nil {
		q += " AND f.coin = ?"
		args = append(args, string(*coin))
	}
	if from != nil {
		q += " AND f.time_ms >= ?"
		args = append(args, int64(*from))
	}
	if to != nil {
		q += " AND f.time_ms <= ?"
		args = append(args, int64(*to))
	}
	q += " ORDER BY f.time_ms ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query effects: %w", err)
	}
	defer rows.Close()

	var out []ledger.Effect
	for rows.Next() {
		var e ledger.Effect
		var kind string
		if err := rows.Scan(&e.FillKey, &e.LifecycleID, &kind, &e.Qty, &e.Notional, &e.Fee, &e.ClosedPnl); err != nil {
			return nil, err
		}
		e.Kind = ledger.EffectKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryLifecycle(ctx context.Context, id int64) (*ledger.Lifecycle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user, coin, start_time_ms, end_time_ms, is_tainted, taint_reason
		FROM position_lifecycles WHERE id = ?`, id)

	var lc ledger.Lifecycle
	var u, c string
	var start int64
	var end sql.NullInt64
	var tainted int
	var reason sql.NullString
	if err := row.Scan(&lc.ID, &u, &c, &start, &end, &tainted, &reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: query lifecycle %d: %w", id, err)
	}
	lc.User, lc.Coin, lc.StartTimeMs, lc.IsTainted = money.Address(u), money.Coin(c), money.TimeMs(start), tainted != 0
	if end.Valid {
		v := money.TimeMs(end.Int64)
		lc.EndTimeMs = &v
	}
	if reason.Valid {
		lc.TaintReason = &reason.String
	}
	return &lc, nil
}

func (s *SQLiteStore) StoreCompileState(ctx context.Context, user money.Address, coin money.Coin, timeMs money.TimeMs, fillKey string, trackerSnapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compile_state (user, coin, last_compiled_time_ms, last_compiled_fill_key, tracker_snapshot, compile_version)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (user, coin) DO UPDATE SET
			last_compiled_time_ms = excluded.last_compiled_time_ms,
			last_compiled_fill_key = excluded.last_compiled_fill_key,
			tracker_snapshot = excluded.tracker_snapshot,
			compile_version = compile_state.compile_version + 1`,
		string(user), string(coin), int64(timeMs), fillKey, trackerSnapshot)
	if err != nil {
		return fmt.Errorf("repository: store compile state for %s/%s: %w", user, coin, err)
	}
	return nil
}

func (s *SQLiteStore) GetCompileState(ctx context.Context, user money.Address, coin money.Coin) (*ledger.CompileState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_compiled_time_ms, last_compiled_fill_key, tracker_snapshot, compile_version
		FROM compile_state WHERE user = ? AND coin = ?`, string(user), string(coin))

	var cs ledger.CompileState
	var lastMs sql.NullInt64
	var lastKey sql.NullString
	var snap []byte
	if err := row.Scan(&lastMs, &lastKey, &snap, &cs.CompileVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: get compile state for %s/%s: %w", user, coin, err)
	}
	cs.User, cs.Coin, cs.TrackerSnapshot = user, coin, snap
	if lastMs.Valid {
		v := money.TimeMs(lastMs.Int64)
		cs.LastCompiledTimeMs = &v
	}
	if lastKey.Valid {
		cs.LastCompiledFillKey = &lastKey.String
	}
	return &cs, nil
}

func (s *SQLiteStore) SumDepositsUpTo(ctx context.Context, user money.Address, at money.TimeMs) (money.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM deposits WHERE user = ? AND time_ms <= ?`, string(user), int64(at))
	if err != nil {
		return money.Zero, fmt.Errorf("repository: sum deposits: %w", err)
	}
	defer rows.Close()
	return sumDecimalColumn(rows)
}

func (s *SQLiteStore) SumRealizedPnlBefore(ctx context.Context, user money.Address, at money.TimeMs) (money.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.closed_pnl FROM fill_effects e JOIN raw_fills f ON f.fill_key = e.fill_key
		WHERE f.user = ? AND f.time_ms < ? AND e.effect_type = 'Close'`, string(user), int64(at))
	if err != nil {
		return money.Zero, fmt.Errorf("repository: sum realized pnl: %w", err)
	}
	defer rows.Close()
	return sumDecimalColumn(rows)
}

func (s *SQLiteStore) GetEquitySnapshotAtOrBefore(ctx context.Context, user money.Address, at money.TimeMs) (*ledger.EquitySnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT time_ms, equity FROM equity_snapshots WHERE user = ? AND time_ms <= ?
		ORDER BY time_ms DESC LIMIT 1`, string(user), int64(at))

	var snap ledger.EquitySnapshot
	var t int64
	if err := row.Scan(&t, &snap.Equity); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: get equity snapshot: %w", err)
	}
	snap.User, snap.TimeMs = user, money.TimeMs(t)
	return &snap, nil
}

func (s *SQLiteStore) UpsertEquitySnapshot(ctx context.Context, snap ledger.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_snapshots (user, time_ms, equity) VALUES (?, ?, ?)
		ON CONFLICT (user, time_ms) DO UPDATE SET equity = excluded.equity`,
		string(snap.User), int64(snap.TimeMs), snap.Equity)
	if err != nil {
		return fmt.Errorf("repository: upsert equity snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertShadowDivergence(ctx context.Context, user money.Address, coin money.Coin, detectedAtMs money.TimeMs, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_divergences (user, coin, detected_at_ms, detail) VALUES (?, ?, ?, ?)`,
		string(user), string(coin), int64(detectedAtMs), detail)
	if err != nil {
		return fmt.Errorf("repository: insert shadow divergence: %w", err)
	}
	return nil
}

func scanFills(rows *sql.Rows) ([]ledger.Fill, error) {
	out, err := scanFillsRaw(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeMs < out[j].TimeMs })
	return out, nil
}

// scanFillsByFillKey preserves the query's own ORDER BY fill_key, used for
// watermark resumption where fill_key itself is the canonical cursor.
func scanFillsByFillKey(rows *sql.Rows) ([]ledger.Fill, error) {
	return scanFillsRaw(rows)
}

func scanFillsRaw(rows *sql.Rows) ([]ledger.Fill, error) {
	var out []ledger.Fill
	for rows.Next() {
		var f ledger.Fill
		var u, c, side string
		var t int64
		var builderFee sql.NullString
		var tid, oid sql.NullString
		if err := rows.Scan(&f.FillKey, &u, &c, &t, &side, &f.Px, &f.Sz, &f.Fee, &f.ClosedPnl, &builderFee, &tid, &oid); err != nil {
			return nil, err
		}
		f.User, f.Coin, f.TimeMs, f.Side = money.Address(u), money.Coin(c), money.TimeMs(t), money.Side(side)
		if builderFee.Valid {
			d, err := money.ParseDecimal(builderFee.String)
			if err != nil {
				return nil, fmt.Errorf("repository: corrupt builder_fee for fill %s: %w", f.FillKey, err)
			}
			f.BuilderFee = &d
		}
		if tid.Valid {
			f.Tid = &tid.String
		}
		if oid.Valid {
			f.Oid = &oid.String
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func sumDecimalColumn(rows *sql.Rows) (money.Decimal, error) {
	total := money.Zero
	for rows.Next() {
		var d money.Decimal
		if err := rows.Scan(&d); err != nil {
			return money.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func nullableDecimal(d *money.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
