package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

func chunkBySymbol(chunks []*store.Chunk) map[string]*store.Chunk {
	out := make(map[string]*store.Chunk)
	for _, c := range chunks {
		if _, seen := out[c.SymbolName]; !seen {
			out[c.SymbolName] = c
		}
	}
	return out
}

func TestSplit_GoDeclarations(t *testing.T) {
	src := []byte(`package calc

import (
	"fmt"
	"strings"
)

// Add returns the sum.
func Add(a, b int) int {
	return a + b
}

func Describe(n int) string {
	return fmt.Sprintf("%d", strings.TrimSpace(" x "))
}

type Calculator struct {
	total int
}

func (c *Calculator) Run() int {
	return Add(c.total, 1)
}
`)

	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "calc/calc.go", store.SourceTypeCode, "go", src)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	for i, c := range chunks {
		assert.Equal(t, store.NewChunkID("calc/calc.go", i), c.ChunkID)
		assert.Equal(t, store.SourceTypeCode, c.SourceType)
		assert.Equal(t, "go", c.Language)
	}

	byName := chunkBySymbol(chunks)
	require.Contains(t, byName, "Add")
	require.Contains(t, byName, "Describe")
	require.Contains(t, byName, "Calculator")
	require.Contains(t, byName, "Run")

	assert.Equal(t, "function", byName["Add"].SymbolType)
	assert.Equal(t, "method", byName["Run"].SymbolType)
	assert.Equal(t, "type", byName["Calculator"].SymbolType)

	// Doc comment travels with its symbol.
	assert.Contains(t, byName["Add"].Text, "// Add returns the sum.")
	assert.Greater(t, byName["Add"].StartLine, 1)
	assert.Greater(t, byName["Add"].EndLine, byName["Add"].StartLine)

	// File imports are recorded once, on the first chunk.
	assert.Equal(t, "fmt,strings", chunks[0].Metadata[store.MetaImports])
	for _, c := range chunks[1:] {
		assert.Empty(t, c.Metadata[store.MetaImports])
	}

	assert.Equal(t, "Sprintf,TrimSpace", byName["Describe"].Metadata[store.MetaCalls])
	assert.Equal(t, "Add", byName["Run"].Metadata[store.MetaCalls])
}

func TestSplit_PythonClassMembers(t *testing.T) {
	src := []byte(`import os
from pathlib import Path

def top():
    return os.getcwd()

class Greeter(Base):
    def greet(self):
        return helper()
`)

	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "app/greet.py", store.SourceTypeCode, "python", src)
	require.NoError(t, err)

	byName := chunkBySymbol(chunks)
	require.Contains(t, byName, "top")
	require.Contains(t, byName, "Greeter")
	require.Contains(t, byName, "greet")

	assert.Equal(t, "function", byName["top"].SymbolType)
	assert.Equal(t, "class", byName["Greeter"].SymbolType)
	assert.Equal(t, "method", byName["greet"].SymbolType)

	assert.Equal(t, "Base", byName["Greeter"].Metadata[store.MetaExtends])
	assert.Equal(t, "Greeter", byName["greet"].Metadata[store.MetaParent])
	assert.Equal(t, "helper", byName["greet"].Metadata[store.MetaCalls])
	assert.Equal(t, "os,pathlib", chunks[0].Metadata[store.MetaImports])
}

func TestSplit_TypeScriptHeritage(t *testing.T) {
	src := []byte(`import { compute } from "./dep";

export interface Shape {
  area(): number;
}

export class Circle extends Base implements Shape {
  radius: number;
  area(): number {
    return compute(this.radius);
  }
}
`)

	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "src/shape.ts", store.SourceTypeCode, "typescript", src)
	require.NoError(t, err)

	byName := chunkBySymbol(chunks)
	require.Contains(t, byName, "Shape")
	require.Contains(t, byName, "Circle")
	require.Contains(t, byName, "area")

	assert.Equal(t, "interface", byName["Shape"].SymbolType)
	assert.Equal(t, "class", byName["Circle"].SymbolType)
	assert.Equal(t, "Base", byName["Circle"].Metadata[store.MetaExtends])
	assert.Equal(t, "Shape", byName["Circle"].Metadata[store.MetaImplements])

	assert.Equal(t, "method", byName["area"].SymbolType)
	assert.Equal(t, "Circle", byName["area"].Metadata[store.MetaParent])
	assert.Equal(t, "./dep", chunks[0].Metadata[store.MetaImports])
}

func TestSplit_OversizedFunctionSubdivides(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Huge() {\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "\tline%d := %d\n\t_ = line%d\n", i, i, i)
	}
	b.WriteString("}\n")

	s := New(Options{ChunkSize: 128, ChunkOverlap: 16})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "big/big.go", store.SourceTypeCode, "go", []byte(b.String()))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "a 400-line function must subdivide")

	prevStart := 0
	for _, c := range chunks {
		assert.Equal(t, "Huge", c.SymbolName)
		assert.Equal(t, "function", c.SymbolType)
		assert.GreaterOrEqual(t, c.StartLine, prevStart, "parts stay in source order")
		prevStart = c.StartLine
	}
}

func TestSplit_NoDeclarationsFallsBackToText(t *testing.T) {
	// A Python script with only top-level statements has no split units.
	src := []byte("print(\"hello\")\nprint(\"world\")\n")

	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "scripts/run.py", store.SourceTypeCode, "python", src)
	require.NoError(t, err)
	require.NotEmpty(t, chunks, "fallback must still index the file")

	assert.Equal(t, store.SourceTypeCode, chunks[0].SourceType)
	assert.Equal(t, "python", chunks[0].Language)
	assert.Empty(t, chunks[0].SymbolName)
}

func TestSplit_UnknownLanguageFallsBackToText(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "lib/legacy.rb", store.SourceTypeCode, "ruby", []byte("puts 'hi'\n"))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "ruby", chunks[0].Language)
}

func TestSplit_RustImplMembers(t *testing.T) {
	src := []byte(`use std::fmt;

struct Point {
    x: i32,
}

impl fmt::Display for Point {
    fn fmt(&self, f: &mut fmt::Formatter) -> fmt::Result {
        write!(f, "{}", self.x)
    }
}
`)

	s := New(Options{})
	defer s.Close()

	chunks, err := s.Split(context.Background(), "src/point.rs", store.SourceTypeCode, "rust", src)
	require.NoError(t, err)

	byName := chunkBySymbol(chunks)
	require.Contains(t, byName, "Point")
	require.Contains(t, byName, "fmt")

	assert.Equal(t, "struct", byName["Point"].SymbolType)
	assert.Equal(t, "method", byName["fmt"].SymbolType)
	assert.Equal(t, "Point", byName["fmt"].Metadata[store.MetaParent])
	assert.Equal(t, "std::fmt", chunks[0].Metadata[store.MetaImports])
}

func TestSplitOversized_PrefersBlankLineBoundaries(t *testing.T) {
	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
		if i%10 == 9 {
			lines = append(lines, "")
		}
	}
	text := strings.Join(lines, "\n")

	parts := splitOversized(text, Options{ChunkSize: 512, ChunkOverlap: 64}.withDefaults())
	require.Greater(t, len(parts), 1)
	for i, p := range parts[:len(parts)-1] {
		last := p.text[strings.LastIndex(p.text, "\n")+1:]
		assert.Equal(t, "", strings.TrimSpace(last), "part %d should end on a blank line", i)
	}
}
