// Package queues holds the FIFO used to batch pending writes.
package queues

type Queue[T any] []T

func NewQueue[T any]() *Queue[T] {
	q := Queue[T]{}
	return &q
}

func (q *Queue[T]) Push(x T) {
	*q = append(*q, x)
}

func (q *Queue[T]) Pop() T {
	x := (*q)[0]
	var zero T
	(*q)[0] = zero
	*q = (*q)[1:]
	return x
}

// PopN removes and returns up to n items from the head of the queue.
func (q *Queue[T]) PopN(n int) []T {
	if n > len(*q) {
		n = len(*q)
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.Pop()
	}
	return out
}

func (q *Queue[T]) Len() int {
	return len(*q)
}

func (q *Queue[T]) IsEmpty() bool {
	return len(*q) == 0
}
