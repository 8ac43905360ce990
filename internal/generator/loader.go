package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kollege/referralnet/internal/commission"
	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/referral"
)

// TaskError accumulates multiple errors produced during bulk loading.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Registrar enrolls members.
type Registrar interface {
	Register(ctx context.Context, input referral.RegisterInput) (domain.Member, error)
}

// PurchaseProcessor records purchases and pays commissions.
type PurchaseProcessor interface {
	ProcessPurchase(ctx context.Context, memberID string, amount float64) (commission.PurchaseResult, error)
}

// LoadStats summarizes a completed load.
type LoadStats struct {
	MembersCreated     int
	PurchasesProcessed int64
	CommissionsPaid    int64
}

// Loader drives a generated dataset through the enrollment and purchase
// services. Enrollment is sequential because each recruit needs its
// sponsor's freshly assigned referral code; purchases run on a worker pool.
type Loader struct {
	registrar Registrar
	processor PurchaseProcessor
	workers   int
}

// NewLoader creates a Loader with the provided concurrency.
func NewLoader(registrar Registrar, processor PurchaseProcessor, workers int) *Loader {
	if workers <= 0 {
		workers = 4
	}
	return &Loader{
		registrar: registrar,
		processor: processor,
		workers:   workers,
	}
}

// Load enrolls every member, then replays every purchase.
func (l *Loader) Load(ctx context.Context, dataset Dataset) (LoadStats, error) {
	var stats LoadStats

	memberIDs := make([]string, len(dataset.Members))
	codes := make([]string, len(dataset.Members))
	for i, seed := range dataset.Members {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		input := referral.RegisterInput{Name: seed.Name, Email: seed.Email}
		if seed.Sponsor >= 0 {
			if seed.Sponsor >= i {
				return stats, fmt.Errorf("member %d references sponsor %d out of order", i, seed.Sponsor)
			}
			input.SponsorCode = codes[seed.Sponsor]
		}

		member, err := l.registrar.Register(ctx, input)
		if err != nil {
			return stats, fmt.Errorf("register member %d: %w", i, err)
		}
		memberIDs[i] = member.ID
		codes[i] = member.ReferralCode
		stats.MembersCreated++
	}

	var processed, commissions atomic.Int64
	err := l.run(ctx, len(dataset.Purchases), func(idx int) error {
		seed := dataset.Purchases[idx]
		if seed.Member < 0 || seed.Member >= len(memberIDs) {
			return fmt.Errorf("purchase %d references unknown member %d", idx, seed.Member)
		}
		result, err := l.processor.ProcessPurchase(ctx, memberIDs[seed.Member], seed.Amount)
		if err != nil {
			return fmt.Errorf("purchase %d: %w", idx, err)
		}
		processed.Add(1)
		commissions.Add(int64(len(result.Earnings)))
		return nil
	})

	stats.PurchasesProcessed = processed.Load()
	stats.CommissionsPaid = commissions.Load()
	return stats, err
}

func (l *Loader) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	var taskErr TaskError
	for err := range errCh {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
