package metrics

import "time"

const (
	PaymentVerdicts = "payment_verdicts"
	ChainRPC        = "chain_rpc"
	InferenceCall   = "inference_call"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
