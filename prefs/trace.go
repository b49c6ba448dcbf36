package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// a panic raised by a canceled context is the normal way out of a blocked send
func isCanceledPanic(r any) bool {
	err, ok := r.(error)
	return ok && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// runs `do` and recovers a panic. Handlers are `func()` or `func(error)`.
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			if !isCanceledPanic(r) {
				glog.Errorf("Unexpected panic: %s\n", panicJson(r, debug.Stack()))
			}
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func panicJson(r any, stack []byte) string {
	frames := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		frames = append(frames, line)
	}
	panicJson, _ := json.Marshal(map[string]any{
		"panic":  fmt.Sprintf("%T=%v", r, r),
		"frames": frames,
	})
	return string(panicJson)
}

// logs how long `do` took at V(2)
func traceErr(tag string, do func() error) error {
	if !glog.V(2) {
		return do()
	}
	start := time.Now()
	err := do()
	millis := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		glog.Infof("%s (%.2fms) err = %s\n", tag, millis, err)
	} else {
		glog.Infof("%s (%.2fms)\n", tag, millis)
	}
	return err
}
