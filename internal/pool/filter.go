package pool

import (
	"bytes"
	"io"
)

// Prompts the worker shim prints while reading its two handshake lines. They
// are argument-reading boilerplate, not genuine worker output, and are
// suppressed from pass-through forwarding.
const (
	queuePrompt      = "queue: "
	payloadKeyPrompt = "payload key: "
)

var prompts = [][]byte{
	[]byte(payloadKeyPrompt),
	[]byte(queuePrompt),
}

// promptWriter forwards worker output to w with the shim prompts removed.
// A prompt can arrive split across chunks, so a bounded tail that could still
// grow into a prompt is carried between writes and emitted by Flush.
type promptWriter struct {
	w     io.Writer
	carry []byte
}

func newPromptWriter(w io.Writer) *promptWriter {
	return &promptWriter{w: w}
}

func (p *promptWriter) Write(data []byte) (int, error) {
	buf := append(p.carry, data...)
	for _, prompt := range prompts {
		buf = bytes.ReplaceAll(buf, prompt, nil)
	}

	keep := promptPrefixSuffix(buf)
	out := buf[:len(buf)-keep]
	p.carry = append([]byte(nil), buf[len(buf)-keep:]...)

	if len(out) > 0 {
		if _, err := p.w.Write(out); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// Flush emits any held-back tail. Called once the worker has exited and no
// more data can complete a prompt.
func (p *promptWriter) Flush() error {
	if len(p.carry) == 0 {
		return nil
	}
	out := p.carry
	p.carry = nil
	_, err := p.w.Write(out)
	return err
}

// promptPrefixSuffix returns the length of the longest suffix of buf that is
// a proper prefix of one of the prompts.
func promptPrefixSuffix(buf []byte) int {
	best := 0
	for _, prompt := range prompts {
		max := len(prompt) - 1
		if max > len(buf) {
			max = len(buf)
		}
		for k := max; k > best; k-- {
			if bytes.Equal(buf[len(buf)-k:], prompt[:k]) {
				best = k
				break
			}
		}
	}
	return best
}
