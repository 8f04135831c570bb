package audio

import "context"

// DecodePool bounds how many WAV decodes run at once so CPU-bound decoding
// never starves concurrent synthesis of other utterances.
type DecodePool struct {
	slots chan struct{}
}

func NewDecodePool(workers int) *DecodePool {
	if workers < 1 {
		workers = 1
	}
	return &DecodePool{slots: make(chan struct{}, workers)}
}

// Decode runs DecodeWAV on a pool slot, waiting for one to free up first.
func (p *DecodePool) Decode(ctx context.Context, data []byte) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	}

	type result struct {
		clip Clip
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-p.slots }()
		clip, err := DecodeWAV(data)
		done <- result{clip: clip, err: err}
	}()

	select {
	case res := <-done:
		return res.clip, res.err
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	}
}
