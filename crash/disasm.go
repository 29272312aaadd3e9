package crash

import "golang.org/x/arch/x86/x86asm"

// DisassembleFault decodes the single instruction at the start of
// code (the bytes the faulting RIP pointed at) and renders it in
// GNU (AT&T) syntax for the crash report, a value-add over the
// original C assert.c, which printed only register state and never
// showed what instruction actually faulted.
//
// pc is used solely to resolve RIP-relative operands in the rendered
// text; it does not affect decoding. DisassembleFault returns ("", err)
// if code does not begin with a valid instruction.
func DisassembleFault(code []byte, pc uint64) (string, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", err
	}
	return x86asm.GNUSyntax(inst, pc, nil), nil
}
