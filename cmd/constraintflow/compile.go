package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/compiler"
	"github.com/BaSui01/constraintflow/constraint"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// 🧩 compile 命令
// =============================================================================

// runCompile 本地编译约束，输出与 POST /compile 相同结构的 JSON。
// 输入可以是约束数组，也可以是 {"constraints": [...]}。
// 退出码：0 有效，1 无效，2 用法或读取错误。
func runCompile(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "-", "Constraint JSON file, - for stdin")
	maxStates := fs.Int("max-dfa-states", 0, "DFA state limit per regex acceptor (0 = default)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var (
		data []byte
		err  error
	)
	if *file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(*file)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read constraints: %v\n", err)
		return 2
	}

	resp := compileLocal(data, *maxStates)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
	if !resp.Valid {
		return 1
	}
	return 0
}

func compileLocal(data []byte, maxStates int) *api.CompileResponse {
	specs, err := parseSpecs(data)
	if err != nil {
		return invalidResponse(err)
	}
	if len(specs) == 0 {
		return invalidResponse(types.NewError(types.ErrInvalidRequest, "constraints must not be empty"))
	}

	var opts []compiler.Option
	if maxStates > 0 {
		opts = append(opts, compiler.WithMaxDFAStates(maxStates))
	}
	if _, err := compiler.New(opts...).Compile(specs); err != nil {
		return invalidResponse(err)
	}
	hash, err := constraint.Hash(specs)
	if err != nil {
		return invalidResponse(err)
	}
	now := time.Now().UTC()
	return &api.CompileResponse{
		Valid:         true,
		Hash:          hash,
		CompiledAt:    &now,
		SchemaPreview: compiler.Preview(specs),
	}
}

func parseSpecs(data []byte) ([]constraint.Spec, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var specs []constraint.Spec
		if err := json.Unmarshal(data, &specs); err != nil {
			return nil, err
		}
		return specs, nil
	}
	var req api.CompileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return req.Constraints, nil
}

func invalidResponse(err error) *api.CompileResponse {
	e := types.ToError(err)
	if _, ok := types.AsError(err); !ok {
		e = types.NewError(types.ErrInvalidRequest, "invalid constraint JSON").WithCause(err)
	}
	return &api.CompileResponse{
		Valid:     false,
		Error:     e.Detail(),
		ErrorType: e.ErrorType(),
	}
}
