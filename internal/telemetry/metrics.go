package telemetry

import (
	"github.com/hashicorp/go-metrics"
	"github.com/sirupsen/logrus"
)

var (
	// MetricBrokerAssign counts replies to "where" inquiries by result.
	MetricBrokerAssign         = []string{"pico", "broker", "assign"}
	MetricBrokerInquiryErrors  = []string{"pico", "broker", "inquiry", "error", "count"}
	MetricDispatcherTxn        = []string{"pico", "dispatcher", "txn"}
	MetricDispatcherTxnSeconds = []string{"pico", "dispatcher", "txn", "duration"}
	MetricPipeChunks           = []string{"pico", "pipe", "chunks"}
	MetricPipeRetries          = []string{"pico", "pipe", "retries"}
	MetricPipeBytes            = []string{"pico", "pipe", "bytes"}
)

type Label string

var (
	LabelResult    Label = "result"
	LabelSlot      Label = "slot"
	LabelPeer      Label = "peer"
	LabelTxn       Label = "txn"
	LabelReply     Label = "reply"
	LabelHop       Label = "hop"
	LabelDirection Label = "direction"
)

func (l Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(l), Value: val}
}

func (l Label) F(val any) logrus.Fields {
	return logrus.Fields{string(l): val}
}

// Sink returns ms, or a sink that drops everything when ms is nil.
func Sink(ms metrics.MetricSink) metrics.MetricSink {
	if ms == nil {
		return &metrics.BlackholeSink{}
	}
	return ms
}
