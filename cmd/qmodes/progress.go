package main

import (
	"fmt"

	"github.com/gosuri/uiprogress"
)

// bar is a progress bar that is a no-op when progress output is off.
type bar struct {
	p   *uiprogress.Progress
	bar *uiprogress.Bar
}

func newBar(enabled bool, label string, total int) *bar {
	if !enabled || total <= 0 {
		return &bar{}
	}
	p := uiprogress.New()
	p.Start()
	b := p.AddBar(total).AppendCompleted().PrependElapsed()
	b.PrependFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("%-10s %d/%d", label, b.Current(), total)
	})
	return &bar{p: p, bar: b}
}

func (b *bar) Incr() {
	if b.bar != nil {
		b.bar.Incr()
	}
}

// Set moves the bar to n completed steps.
func (b *bar) Set(n int) {
	if b.bar != nil {
		b.bar.Set(n)
	}
}

func (b *bar) Stop() {
	if b.p != nil {
		b.p.Stop()
	}
}
