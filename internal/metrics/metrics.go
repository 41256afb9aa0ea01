// Package metrics holds the Prometheus series axolotl records. Series are
// registered on an explicit Registerer so tests and the CLI each get their
// own registry.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"axolotl/internal/domain"
	"axolotl/internal/domain/types"
)

// Metrics are the counters recorded by the services and store wrapper.
type Metrics struct {
	SessionsEstablished *prometheus.CounterVec
	Messages            *prometheus.CounterVec
	ProtocolErrors      *prometheus.CounterVec
	StoreTransactions   *prometheus.CounterVec
}

// New registers the axolotl series on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsEstablished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "axolotl_sessions_established_total",
			Help: "Sessions created, by role (initiator or responder).",
		}, []string{"role"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "axolotl_messages_total",
			Help: "Messages encrypted or decrypted.",
		}, []string{"direction"}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "axolotl_protocol_errors_total",
			Help: "Failed protocol operations, by error kind.",
		}, []string{"kind"}),
		StoreTransactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "axolotl_store_transactions_total",
			Help: "Store transactions, by mode (view or update) and result.",
		}, []string{"mode", "result"}),
	}
}

// Discard returns metrics registered on a private registry.
func Discard() *Metrics { return New(prometheus.NewRegistry()) }

// Error counts err under its error kind. A nil err is ignored.
func (m *Metrics) Error(err error) {
	if err == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(types.ErrorKind(err)).Inc()
}

// Instrument wraps t so every transaction is counted.
func Instrument(t domain.Transactor, m *Metrics) domain.Transactor {
	return &instrumented{next: t, m: m}
}

type instrumented struct {
	next domain.Transactor
	m    *Metrics
}

func (i *instrumented) View(ctx context.Context, fn func(domain.ReadContext) error) error {
	err := i.next.View(ctx, fn)
	i.m.StoreTransactions.WithLabelValues("view", result(err)).Inc()
	return err
}

func (i *instrumented) Update(ctx context.Context, fn func(domain.WriteContext) error) error {
	err := i.next.Update(ctx, fn)
	i.m.StoreTransactions.WithLabelValues("update", result(err)).Inc()
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
