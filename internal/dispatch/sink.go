package dispatch

import (
	"bufio"
	"io"
)

// Sink is the single writer for line output. Each finished line is written
// and flushed as one block before the next is accepted.
type Sink struct {
	w     *bufio.Writer
	ch    chan *Line
	done  chan struct{}
	err   error
	onErr func(error)
}

func NewSink(w io.Writer, backlog int, onErr func(error)) *Sink {
	return &Sink{
		w:     bufio.NewWriter(w),
		ch:    make(chan *Line, backlog),
		done:  make(chan struct{}),
		onErr: onErr,
	}
}

// Start launches the writer goroutine.
func (s *Sink) Start() {
	go s.run()
}

func (s *Sink) run() {
	defer close(s.done)
	for l := range s.ch {
		if s.err != nil {
			continue
		}
		if err := s.write(l); err != nil {
			s.err = err
			if s.onErr != nil {
				s.onErr(err)
			}
		}
	}
}

func (s *Sink) write(l *Line) error {
	out := l.Output()
	if len(out) == 0 {
		return nil
	}
	for _, line := range out {
		if _, err := s.w.WriteString(line); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// Submit hands a finished line to the writer.
func (s *Sink) Submit(l *Line) {
	s.ch <- l
}

// Close stops accepting lines, waits for pending writes and returns the
// first write error.
func (s *Sink) Close() error {
	close(s.ch)
	<-s.done
	return s.err
}
