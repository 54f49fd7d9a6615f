package utils

type Metric struct {
	DatabaseRead       chan float64
	DatabaseWrite      chan float64
	DiscordSendMessage chan float64
	TapEvents          chan float64
	AutokickClosed     chan float64
	SettingWriteFailed chan float64
}

func NewMetric() *Metric {
	return &Metric{
		DatabaseRead:       make(chan float64, 64),
		DatabaseWrite:      make(chan float64, 64),
		DiscordSendMessage: make(chan float64, 64),
		TapEvents:          make(chan float64, 64),
		AutokickClosed:     make(chan float64, 64),
		SettingWriteFailed: make(chan float64, 64),
	}
}

// Non-blocking send; drops the sample when the drain loop is
// not running (tests) or the buffer is full.
func Observe(ch chan float64, v float64) {
	select {
	case ch <- v:
	default:
	}
}
