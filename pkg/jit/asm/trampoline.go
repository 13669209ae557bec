//go:build amd64

// Package asm holds the Go assembly trampoline that enters compiled traces.
// It is a separate package so the rest of the JIT stays free of assembly.
package asm

// CallTrace calls compiled code at entry with the trace arguments in RDI,
// RSI and RDX (System V order). Returns the resume target from EAX.
func CallTrace(entry, frame, stackTop, state uintptr) uint64
