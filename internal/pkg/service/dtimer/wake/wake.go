// Package wake contains the message announcing a new wake interval to the nodes.
//
// The message is published to the private channel of each node:
//
//	{"interval": <milliseconds>}
package wake

import (
	"math"
	"time"

	"github.com/valyala/fastjson"

	"github.com/keboola/dtimer/internal/pkg/encoding/json"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

type Message struct {
	Interval int64 `json:"interval"`
}

func Encode(interval time.Duration) string {
	if interval < 0 {
		interval = 0
	}
	return json.MustEncodeString(Message{Interval: interval.Milliseconds()}, false)
}

// Decode the message, a malformed JSON or an interval which is not a number is an error.
// A negative interval is treated as zero.
func Decode(payload string) (time.Duration, error) {
	v, err := fastjson.Parse(payload)
	if err != nil {
		return 0, errors.PrefixErrorf(err, `malformed wake message "%s"`, payload)
	}

	field := v.Get("interval")
	if field == nil || field.Type() != fastjson.TypeNumber {
		return 0, errors.Errorf(`invalid interval in wake message "%s"`, payload)
	}

	ms, err := field.Float64()
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, errors.Errorf(`invalid interval in wake message "%s"`, payload)
	}
	if ms < 0 {
		ms = 0
	}

	return time.Duration(ms * float64(time.Millisecond)), nil
}
