package warptile

// Stage is one slot of a pipeline's circular buffer: staged shared-memory
// tiles plus the paired barriers coordinating its reuse. The producer flips
// Full when the stage's data has landed; the consumer flips Empty when the
// stage may be recycled.
type Stage struct {
	Full  *TxBarrier
	Empty *TxBarrier

	// Bufs are the staged operand buffers, one per operand streamed
	// through this pipeline (A and B for the mainloop, C for the
	// epilogue load pipeline).
	Bufs [][]float32
}

// Pipeline is a fixed-depth ring of stages implementing the bounded
// single-producer/single-consumer protocol: the producer blocks until a
// stage is free, the consumer blocks until a stage's data is ready. All
// coordination happens through the stage barriers; iteration indices are
// global, the ring mapping is internal.
type Pipeline struct {
	stages []*Stage
	depth  int
}

// NewPipeline creates a pipeline of the given depth. bufSizes lists the
// element count of each staged operand buffer per stage.
func NewPipeline(depth int, bufSizes ...int) *Pipeline {
	if depth <= 0 {
		depth = 1
	}
	p := &Pipeline{depth: depth, stages: make([]*Stage, depth)}
	for s := range p.stages {
		bufs := make([][]float32, len(bufSizes))
		for i, n := range bufSizes {
			bufs[i] = make([]float32, n)
		}
		p.stages[s] = &Stage{
			Full:  NewTxBarrier(1),
			Empty: NewTxBarrier(1),
			Bufs:  bufs,
		}
	}
	return p
}

// Depth returns the number of stages in flight.
func (p *Pipeline) Depth() int { return p.depth }

// ProducerAcquire blocks until the stage for iteration i is free for reuse
// and returns it. The first Depth acquires never block.
func (p *Pipeline) ProducerAcquire(i int) *Stage {
	st := p.stages[i%p.depth]
	st.Empty.WaitPhase(uint64(i / p.depth))
	return st
}

// ProducerCommit signals that all transfers for iteration i have been
// issued. The stage becomes visible to the consumer once every transaction
// armed on its Full barrier has also completed.
func (p *Pipeline) ProducerCommit(i int) {
	p.stages[i%p.depth].Full.Arrive()
}

// ConsumerWait blocks until the data of iteration i is ready and returns
// its stage.
func (p *Pipeline) ConsumerWait(i int) *Stage {
	st := p.stages[i%p.depth]
	st.Full.WaitPhase(uint64(i/p.depth) + 1)
	return st
}

// ConsumerRelease recycles the stage of iteration i for the producer.
func (p *Pipeline) ConsumerRelease(i int) {
	p.stages[i%p.depth].Empty.Arrive()
}
