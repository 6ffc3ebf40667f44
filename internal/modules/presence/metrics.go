package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelIgnored = "ignored"
	labelInvalid = "invalid"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presenced",
		Name:      "messages_total",
		Help:      "Inbound messages by decoded kind",
	}, []string{"kind"})
	snapshotsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presenced",
		Name:      "snapshots_published_total",
		Help:      "Snapshots handed to the broker",
	})
	peoplePresent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presenced",
		Name:      "people_present",
		Help:      "People currently present",
	})
)
