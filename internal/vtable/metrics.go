package vtable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// composeDuration: длительность сборки виртуальной таблицы.
	composeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabel_vtable_compose_duration_seconds",
			Help:    "Длительность сборки виртуальной таблицы в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// composeRows: сколько строк прошло через временные таблицы.
	composeRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabel_vtable_rows_total",
			Help: "Количество строк, вставленных во временные таблицы",
		},
		[]string{"entity"},
	)
)
