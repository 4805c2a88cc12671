package keys

// pregenBuffer holds a bounded stock of pre-generated secrets so the
// issue hot path can usually skip the crypto/rand read. Correctness
// never depends on it being populated.
type pregenBuffer struct {
	secrets chan string
	done    chan struct{}
}

func newPregenBuffer(size int) *pregenBuffer {
	if size <= 0 {
		size = 16
	}
	return &pregenBuffer{
		secrets: make(chan string, size),
		done:    make(chan struct{}),
	}
}

// start launches the refill goroutine. It blocks on the channel while
// the buffer is full and exits when stop is called.
func (b *pregenBuffer) start() {
	go func() {
		for {
			secret, err := generateSecret()
			if err != nil {
				// Not fatal: callers fall back to the synchronous path
				// and observe the error there.
				<-b.done
				return
			}
			select {
			case b.secrets <- secret:
			case <-b.done:
				return
			}
		}
	}()
}

// take returns a buffered secret if one is available
func (b *pregenBuffer) take() (string, bool) {
	select {
	case secret := <-b.secrets:
		return secret, true
	default:
		return "", false
	}
}

func (b *pregenBuffer) stop() {
	close(b.done)
}
