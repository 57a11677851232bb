package retriever

// Result is the outcome of one tile fetch. Exactly one of Data and Err is set.
type Result struct {
	Data []byte
	Err  error
}

// Retriever fetches raw tile bytes from a remote source.
//
// LoadTile must not block. The returned channel delivers exactly one Result
// and is then closed. Implementations must be safe for concurrent use.
type Retriever interface {
	LoadTile(zoom, x, y int) <-chan Result
}

// Func adapts a blocking fetch function into a Retriever; each call runs in
// its own goroutine.
type Func func(zoom, x, y int) ([]byte, error)

func (f Func) LoadTile(zoom, x, y int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		data, err := f(zoom, x, y)
		ch <- Result{Data: data, Err: err}
	}()
	return ch
}
