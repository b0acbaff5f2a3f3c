package allocation

import (
	"context"

	"github.com/erp/allocation/internal/domain/allocation"
)

// TransactionScope provides transactional access to the allocation repositories.
// All repository operations inside fn share one database transaction that is
// committed when fn returns nil and rolled back otherwise.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the repositories bound to the current transaction.
type TransactionalRepositories interface {
	LotRepo() allocation.LotRepository
	ReservationRepo() allocation.ReservationRepository
}
