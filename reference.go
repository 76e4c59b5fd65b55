// Package warptile reference implementations for verification
package warptile

// Reference contains simple, correct implementations used for testing and
// verification of the pipelined kernels. They are deliberately naive; only
// the fused kernels are performance relevant.
type Reference struct{}

// GEMM computes C = alpha*A*B + beta*C for row-major operands.
func (Reference) GEMM(m, n, k int, alpha float32, a []float32, lda int,
	b []float32, ldb int, beta float32, c []float32, ldc int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += a[i*lda+l] * b[l*ldb+j]
			}
			c[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
		}
	}
}

// GEMMInto computes acc = A*B with float32 accumulation, leaving scaling to
// the caller. It mirrors what the mainloop hands to the epilogue.
func (Reference) GEMMInto(m, n, k int, a []float32, lda int,
	b []float32, ldb int, acc []float32, ldacc int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += a[i*lda+l] * b[l*ldb+j]
			}
			acc[i*ldacc+j] = sum
		}
	}
}

// GEMMBiasAct computes D = act(alpha*A*B + beta*C + bias[col]) elementwise,
// the reference for the linear-combination-with-bias-and-activation fusion.
func (Reference) GEMMBiasAct(m, n, k int, alpha float32, a []float32, lda int,
	b []float32, ldb int, beta float32, c []float32, ldc int,
	bias []float32, act func(float32) float32, d []float32, ldd int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += a[i*lda+l] * b[l*ldb+j]
			}
			v := alpha * sum
			if beta != 0 && c != nil {
				v += beta * c[i*ldc+j]
			}
			if bias != nil {
				v += bias[j]
			}
			if act != nil {
				v = act(v)
			}
			d[i*ldd+j] = v
		}
	}
}
