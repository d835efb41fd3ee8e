// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpKind enumerates the kernel categories PrimPool manages. Each kind has its own
// parameter type and its own registry per element dtype.
type OpKind int

const (
	OpKindInvalid OpKind = iota
	OpKindConvForward
	OpKindConvBackwardData
	OpKindConvBackwardWeights
	OpKindPoolingForward
	OpKindPoolingBackward
	OpKindLRNForward
	OpKindLRNBackward
	OpKindEltwiseForward
	OpKindEltwiseBackward
)

var opKindNames = [...]string{
	OpKindInvalid:             "invalid",
	OpKindConvForward:         "conv_fwd",
	OpKindConvBackwardData:    "conv_bwd_data",
	OpKindConvBackwardWeights: "conv_bwd_weights",
	OpKindPoolingForward:      "pooling_fwd",
	OpKindPoolingBackward:     "pooling_bwd",
	OpKindLRNForward:          "lrn_fwd",
	OpKindLRNBackward:         "lrn_bwd",
	OpKindEltwiseForward:      "eltwise_fwd",
	OpKindEltwiseBackward:     "eltwise_bwd",
}

// String implements fmt.Stringer.
func (k OpKind) String() string {
	if k < 0 || int(k) >= len(opKindNames) {
		return "invalid"
	}
	return opKindNames[k]
}

// OpKinds lists every valid operation kind, in a fixed order used for stats reporting.
func OpKinds() []OpKind {
	kinds := make([]OpKind, 0, len(opKindNames)-1)
	for k := OpKindConvForward; int(k) < len(opKindNames); k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
