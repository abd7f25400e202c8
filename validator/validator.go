package validator

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator 定义数据验证器接口
type Validator interface {
	// Validate 验证数据
	Validate(data interface{}) error
}

// SchemaValidator 使用编译后的JSON Schema验证文档
type SchemaValidator struct {
	name   string
	schema *jsonschema.Schema
}

// NewSchemaValidator 编译以 name 注册的Schema文档
func NewSchemaValidator(name string, schema []byte) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("加载Schema %s 失败: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("编译Schema %s 失败: %w", name, err)
	}
	return &SchemaValidator{name: name, schema: compiled}, nil
}

// MustSchemaValidator 与 NewSchemaValidator 相同，Schema无效时 panic
func MustSchemaValidator(name string, schema []byte) *SchemaValidator {
	v, err := NewSchemaValidator(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate 验证通用JSON解码得到的值
func (v *SchemaValidator) Validate(data interface{}) error {
	if err := v.schema.Validate(data); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Schema: v.name, Violations: flatten(verr)}
		}
		return err
	}
	return nil
}

// ValidateJSON 解码原始数据并验证
func (v *SchemaValidator) ValidateJSON(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &Error{Schema: v.name, Violations: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return v.Validate(doc)
}

// Error 列出文档中所有违反Schema的地方
type Error struct {
	Schema     string
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(e.Violations, "; "))
}

// flatten 将验证错误的叶子原因收集为 "location: message" 字符串
func flatten(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s: %s", location, err.Message)}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
