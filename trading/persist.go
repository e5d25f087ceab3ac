package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/signaltrader/store"
)

const (
	keyBalance   = "signaltrader/balance"
	keyPositions = "signaltrader/positions"
	keyHistory   = "signaltrader/history"

	schemaVersion = 1
	storeTimeout  = 5 * time.Second
)

// ErrCorruptState is wrapped when persisted data cannot be used.
var ErrCorruptState = errors.New("corrupt persisted state")

type envelope[T any] struct {
	Version int `json:"version"`
	Items   []T `json:"items"`
}

// state is the persisted part of the manager.
type state struct {
	Balance   float64
	Positions []Position
	History   []HistoryRecord
}

func saveState(ctx context.Context, st store.Store, s state) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	positions, err := json.Marshal(envelope[Position]{Version: schemaVersion, Items: nonNil(s.Positions)})
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	history, err := json.Marshal(envelope[HistoryRecord]{Version: schemaVersion, Items: nonNil(s.History)})
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	if err := st.Put(ctx, keyBalance, []byte(strconv.FormatFloat(s.Balance, 'f', -1, 64))); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	if err := st.Put(ctx, keyPositions, positions); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	if err := st.Put(ctx, keyHistory, history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// loadState reads the persisted state. Missing keys take their defaults.
// Any unreadable key fails the whole load so a half-restored ledger is never
// used.
func loadState(ctx context.Context, st store.Store, initialBalance float64) (state, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	s := state{Balance: initialBalance}

	raw, err := st.Get(ctx, keyBalance)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return state{Balance: initialBalance}, fmt.Errorf("load balance: %w", err)
	default:
		b, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil || math.IsNaN(b) || math.IsInf(b, 0) {
			return state{Balance: initialBalance}, fmt.Errorf("%w: balance %q", ErrCorruptState, raw)
		}
		s.Balance = b
	}

	positions, err := loadList[Position](ctx, st, keyPositions)
	if err != nil {
		return state{Balance: initialBalance}, err
	}
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.ID == "" || p.ID != p.Signal.ID || !(p.Capital > 0) || seen[p.ID] {
			return state{Balance: initialBalance}, fmt.Errorf("%w: position %q", ErrCorruptState, p.ID)
		}
		seen[p.ID] = true
	}
	s.Positions = positions

	history, err := loadList[HistoryRecord](ctx, st, keyHistory)
	if err != nil {
		return state{Balance: initialBalance}, err
	}
	for _, h := range history {
		if h.ID == "" {
			return state{Balance: initialBalance}, fmt.Errorf("%w: history record without id", ErrCorruptState)
		}
	}
	s.History = history

	return s, nil
}

func loadList[T any](ctx context.Context, st store.Store, key string) ([]T, error) {
	raw, err := st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
	}
	if env.Version != schemaVersion {
		return nil, fmt.Errorf("%w: %s has version %d", ErrCorruptState, key, env.Version)
	}
	return env.Items, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
