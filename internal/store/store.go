package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned once a transaction has been retried the
	// maximum number of times without committing.
	ErrConflict = errors.New("transaction conflict")
)

const DefaultMaxAttempts = 5

type Collection string

const (
	Shifts                 Collection = "shifts"
	Tanks                  Collection = "tanks"
	Products               Collection = "products"
	Nozzles                Collection = "nozzles"
	Readings               Collection = "readings"
	DipCharts              Collection = "dipcharts"
	Accounts               Collection = "accounts"
	Receipts               Collection = "receipts"
	Bills                  Collection = "bills"
	Discounts              Collection = "discounts"
	SaleInvoices           Collection = "saleInvoices"
	SaleReturnInvoices     Collection = "saleReturnInvoices"
	PurchaseInvoices       Collection = "purchaseInvoices"
	PurchaseReturnInvoices Collection = "purchaseReturnInvoices"
	Cashflow               Collection = "cashflow"
	Summaries              Collection = "summaries"
	StockMovements         Collection = "stockMovements"
	Users                  Collection = "users"
)

type Key struct {
	Collection Collection
	ID         string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Collection, k.ID)
}

type Document struct {
	ID      string
	Version int64
	Data    []byte
}

// Filter is an equality match on a top-level JSON string field.
type Filter struct {
	Field string
	Value string
}

// Query selects documents of one collection. OrderBy names a numeric
// top-level field; documents without it sort first.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

func Where(field, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

func (q Query) And(field, value string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

func (q Query) Take(limit int) Query {
	q.Limit = limit
	return q
}

type Reader interface {
	Get(ctx context.Context, c Collection, id string) (Document, error)
	Find(ctx context.Context, c Collection, q Query) ([]Document, error)
}

type Tx interface {
	Reader
	Put(ctx context.Context, c Collection, id string, value any) error
	Delete(ctx context.Context, c Collection, id string) error
}

// Write is one entry of an atomic batch. A nil Value deletes the document.
type Write struct {
	Collection Collection
	ID         string
	Value      any
}

type Store interface {
	Reader
	// RunInTx runs fn with optimistic concurrency: if any document read by
	// fn changes before commit, fn is run again with fresh reads. An error
	// returned by fn aborts the transaction and is returned unchanged.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Batch(ctx context.Context, writes []Write) error
	Close() error
}

func Load[T any](ctx context.Context, r Reader, c Collection, id string) (*T, error) {
	doc, err := r.Get(ctx, c, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c, id, err)
	}
	return &v, nil
}

func FindAll[T any](ctx context.Context, r Reader, c Collection, q Query) ([]T, error) {
	docs, err := r.Find(ctx, c, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](c, docs)
}

func DecodeAll[T any](c Collection, docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c, doc.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func Encode(value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
