package substrate

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// recordSymbols exports Record to scripts the same way the teacher's
// generated symbols table exported Data - hand-written here since this
// module's Record is a single, fixed-shape type rather than a whole
// package surface.
var recordSymbols = interp.Exports{
	"github.com/whitaker-io/substrate/substrate": {
		"Record": reflect.ValueOf((*Record)(nil)),
	},
}

// LoadScript evaluates script with a yaegi interpreter carrying the Go
// stdlib and Record, then resolves symbol to a func value - the core's
// equivalent of loader.go's loadSymbol, generalized from machine.Data to
// Record and from a fixed menu of vertex shapes to "whatever func type the
// caller asserts it as".
func LoadScript(script, symbol string) (interface{}, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, err
	}
	if err := i.Use(recordSymbols); err != nil {
		return nil, err
	}

	if _, err := i.Eval(script); err != nil {
		return nil, err
	}

	v, err := i.Eval(symbol)
	if err != nil {
		return nil, err
	}

	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("scriptops: symbol %s is not a func", symbol)
	}

	return v.Interface(), nil
}

// ScriptApplicative evaluates script and asserts symbol as a
// func(Record) Record, for use as a config-driven Map stage.
func ScriptApplicative(script, symbol string) (func(Record) Record, error) {
	i, err := LoadScript(script, symbol)
	if err != nil {
		return nil, err
	}
	fn, ok := i.(func(Record) Record)
	if !ok {
		return nil, fmt.Errorf("scriptops: symbol %s is not func(Record) Record", symbol)
	}
	return fn, nil
}

// ScriptPredicate evaluates script and asserts symbol as a
// func(Record) bool, for use as a config-driven Filter stage.
func ScriptPredicate(script, symbol string) (func(Record) bool, error) {
	i, err := LoadScript(script, symbol)
	if err != nil {
		return nil, err
	}
	fn, ok := i.(func(Record) bool)
	if !ok {
		return nil, fmt.Errorf("scriptops: symbol %s is not func(Record) bool", symbol)
	}
	return fn, nil
}

// ScriptKeyer evaluates script and asserts symbol as a func(Record)
// string, for use as a config-driven GroupBy key function.
func ScriptKeyer(script, symbol string) (func(Record) string, error) {
	i, err := LoadScript(script, symbol)
	if err != nil {
		return nil, err
	}
	fn, ok := i.(func(Record) string)
	if !ok {
		return nil, fmt.Errorf("scriptops: symbol %s is not func(Record) string", symbol)
	}
	return fn, nil
}

// ScriptCombine evaluates script and asserts symbol as a
// func(Record, Record) Record, for use as a config-driven Fold combine
// function (associative, usable as both the local and global stage).
func ScriptCombine(script, symbol string) (func(Record, Record) Record, error) {
	i, err := LoadScript(script, symbol)
	if err != nil {
		return nil, err
	}
	fn, ok := i.(func(Record, Record) Record)
	if !ok {
		return nil, fmt.Errorf("scriptops: symbol %s is not func(Record, Record) Record", symbol)
	}
	return fn, nil
}

// scriptPluginProvider is the built-in PluginProvider backing the "script"
// provider name in a GraphSerialization: attributes must carry "script"
// and "symbol" keys, and xType selects which of the Script* constructors
// above resolves the symbol.
type scriptPluginProvider struct{}

func (scriptPluginProvider) Load(xType string, attributes map[string]interface{}) (interface{}, error) {
	script, _ := attributes["script"].(string)
	symbol, _ := attributes["symbol"].(string)
	if script == "" || symbol == "" {
		return nil, fmt.Errorf("scriptops: provider requires script and symbol attributes")
	}

	switch xType {
	case "map", "flatmap_element":
		return ScriptApplicative(script, symbol)
	case "filter":
		return ScriptPredicate(script, symbol)
	case "groupby_count", "window_sum":
		return ScriptKeyer(script, symbol)
	case "fold":
		return ScriptCombine(script, symbol)
	default:
		return nil, fmt.Errorf("scriptops: unsupported provider type %s", xType)
	}
}

func init() {
	RegisterPluginProvider("script", scriptPluginProvider{})
}
