package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/messaging"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
)

type (
	// DB keeps every table in memory. Used by tests and local runs without postgres.
	DB struct {
		sync.RWMutex
		txMu sync.Mutex
		data tables
	}

	tables struct {
		users         map[string]user.User
		gigs          map[string]booking.Gig
		students      map[string]booking.Student
		bookings      map[string]booking.Booking
		sessions      map[string]booking.Session
		payments      map[string]payment.Payment // by reference
		events        map[string]time.Time
		earnings      map[string]earning.Earning
		payouts       map[string]earning.Payout
		conversations map[string]messaging.Conversation
		messages      []messaging.Message
		notifications []notification.Notification
	}
)

func Open() *DB {
	return &DB{data: newTables()}
}

func newTables() tables {
	return tables{
		users:         make(map[string]user.User),
		gigs:          make(map[string]booking.Gig),
		students:      make(map[string]booking.Student),
		bookings:      make(map[string]booking.Booking),
		sessions:      make(map[string]booking.Session),
		payments:      make(map[string]payment.Payment),
		events:        make(map[string]time.Time),
		earnings:      make(map[string]earning.Earning),
		payouts:       make(map[string]earning.Payout),
		conversations: make(map[string]messaging.Conversation),
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.gigs {
		c.gigs[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	for k, v := range t.bookings {
		c.bookings[k] = v
	}
	for k, v := range t.sessions {
		c.sessions[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.events {
		c.events[k] = v
	}
	for k, v := range t.earnings {
		c.earnings[k] = v
	}
	for k, v := range t.payouts {
		v.EarningIDs = append([]string(nil), v.EarningIDs...)
		c.payouts[k] = v
	}
	for k, v := range t.conversations {
		c.conversations[k] = v
	}
	c.messages = append(c.messages, t.messages...)
	c.notifications = append(c.notifications, t.notifications...)
	return c
}

// Reset empties every table.
func (db *DB) Reset() {
	db.Lock()
	defer db.Unlock()
	db.data = newTables()
}

// AddGig and AddStudent seed the catalog, which has no write path in the service.
func (db *DB) AddGig(g booking.Gig) {
	db.Lock()
	defer db.Unlock()
	db.data.gigs[g.ID] = g
}

func (db *DB) AddStudent(s booking.Student) {
	db.Lock()
	defer db.Unlock()
	db.data.students[s.ID] = s
}

// exec marks calls made inside WithinTx. It carries no state: every write goes to the
// shared tables, which are restored from a snapshot when the transaction fails.
type exec struct {
	core.DBExecutor
}

type transactor struct {
	db *DB
}

var _ core.Transactor = (*transactor)(nil)

func NewTransactor(db *DB) core.Transactor {
	return &transactor{db: db}
}

// WithinTx serializes transactions. Writes made outside a transaction while one is
// running are lost if it rolls back.
func (t *transactor) WithinTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.RLock()
	snapshot := t.db.data.clone()
	t.db.RUnlock()

	if err := fn(exec{}); err != nil {
		t.db.Lock()
		t.db.data = snapshot
		t.db.Unlock()
		return err
	}
	return nil
}
