// Package initialdata collects everything a signed-in client needs on startup
// (profile, primary account, primary card and recent history) in one call.
package initialdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/gopay/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Section names one of the four parts of the initial data.
type Section string

const (
	SectionUser    Section = "user"
	SectionAccount Section = "account"
	SectionCard    Section = "card"
	SectionHistory Section = "history"
)

// ErrEmpty is returned when a fetch reports success without a value.
var ErrEmpty = errors.New("empty result")

// FetchError reports which section failed and wraps the cause.
type FetchError struct {
	Section Section
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Section, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Sources are the four fetch operations. Each must honour ctx cancellation.
type Sources struct {
	User    func(ctx context.Context) (*models.User, error)
	Account func(ctx context.Context) (*models.Account, error)
	Card    func(ctx context.Context) (*models.Card, error)
	History func(ctx context.Context) ([]models.Transaction, error)
}

func (s Sources) validate() error {
	switch {
	case s.User == nil:
		return &FetchError{Section: SectionUser, Err: errors.New("no source")}
	case s.Account == nil:
		return &FetchError{Section: SectionAccount, Err: errors.New("no source")}
	case s.Card == nil:
		return &FetchError{Section: SectionCard, Err: errors.New("no source")}
	case s.History == nil:
		return &FetchError{Section: SectionHistory, Err: errors.New("no source")}
	}
	return nil
}

// Aggregator runs Sources and joins their results.
type Aggregator struct {
	sequential bool
	log        *logrus.Logger
}

// New returns an Aggregator. With sequential set the fetches run one after
// another in the order user, account, card, history; otherwise all four run
// at once and the first failure cancels the rest.
func New(sequential bool, log *logrus.Logger) *Aggregator {
	return &Aggregator{sequential: sequential, log: log}
}

// Collect returns all four sections or an error. It never returns a partial result.
func (a *Aggregator) Collect(ctx context.Context, src Sources) (*models.InitialData, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}

	var (
		data *models.InitialData
		err  error
	)
	if a.sequential {
		data, err = a.collectSequential(ctx, src)
	} else {
		data, err = a.collectConcurrent(ctx, src)
	}
	if err != nil {
		a.log.Debugf("Initial data not collected: %v", err)
		return nil, err
	}
	return data, nil
}

func (a *Aggregator) collectConcurrent(ctx context.Context, src Sources) (*models.InitialData, error) {
	g, gctx := errgroup.WithContext(ctx)
	var data models.InitialData

	g.Go(func() error {
		u, err := fetch(gctx, SectionUser, src.User)
		data.User = u
		return err
	})
	g.Go(func() error {
		acc, err := fetch(gctx, SectionAccount, src.Account)
		data.Account = acc
		return err
	})
	g.Go(func() error {
		c, err := fetch(gctx, SectionCard, src.Card)
		data.Card = c
		return err
	})
	g.Go(func() error {
		h, err := fetchHistory(gctx, src.History)
		data.History = h
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &data, nil
}

func (a *Aggregator) collectSequential(ctx context.Context, src Sources) (*models.InitialData, error) {
	var (
		data models.InitialData
		err  error
	)
	if data.User, err = fetch(ctx, SectionUser, src.User); err != nil {
		return nil, err
	}
	if data.Account, err = fetch(ctx, SectionAccount, src.Account); err != nil {
		return nil, err
	}
	if data.Card, err = fetch(ctx, SectionCard, src.Card); err != nil {
		return nil, err
	}
	if data.History, err = fetchHistory(ctx, src.History); err != nil {
		return nil, err
	}
	return &data, nil
}

func fetch[T any](ctx context.Context, section Section, f func(context.Context) (*T, error)) (*T, error) {
	v, err := f(ctx)
	if err != nil {
		return nil, &FetchError{Section: section, Err: err}
	}
	if v == nil {
		return nil, &FetchError{Section: section, Err: ErrEmpty}
	}
	return v, nil
}

// An empty history is a valid history.
func fetchHistory(ctx context.Context, f func(context.Context) ([]models.Transaction, error)) ([]models.Transaction, error) {
	h, err := f(ctx)
	if err != nil {
		return nil, &FetchError{Section: SectionHistory, Err: err}
	}
	if h == nil {
		h = []models.Transaction{}
	}
	return h, nil
}
