package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"modernc.org/quickjs"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension"
	"github.com/morezero/extension-workers/pkg/worker"
)

// ErrVMClosed is returned by calls into an extension whose VM has shut down.
var ErrVMClosed = errors.New("script: extension VM closed")

// runtimeJS is evaluated before the extension code. Values cross between Go
// and the VM as strings only.
const runtimeJS = `
(function () {
	var extensions = [];
	var pending = {};

	function table(json) {
		return Object.freeze(JSON.parse(json));
	}

	globalThis.__extensionRuntime = Object.freeze({
		capability: function (blockTypes, argumentTypes, targetTypes) {
			var register = function (ext) {
				if (!ext || typeof ext.getInfo !== 'function') {
					throw new TypeError('register: extension object has no getInfo method');
				}
				var index = extensions.push(ext) - 1;
				var out = JSON.parse(__hostRegister(String(index), JSON.stringify(ext.getInfo())));
				if (out.error) {
					throw new Error(out.error);
				}
				return new Promise(function (resolve, reject) {
					pending[index] = {resolve: resolve, reject: reject, service: out.service};
				});
			};
			return Object.freeze({
				BlockType: table(blockTypes),
				ArgumentType: table(argumentTypes),
				TargetType: table(targetTypes),
				register: register,
				extensions: Object.freeze({register: register})
			});
		},

		invoke: function (index, method, argsJSON) {
			var reply;
			try {
				var ext = extensions[Number(index)];
				if (!ext || typeof ext[method] !== 'function') {
					throw new Error('extension has no method ' + method);
				}
				var value = ext[method].apply(ext, JSON.parse(argsJSON));
				if (value && typeof value.then === 'function') {
					throw new Error(method + ' returned a promise; block results must be synchronous');
				}
				reply = JSON.stringify({value: value === undefined ? null : value});
			} catch (e) {
				reply = JSON.stringify({error: String(e && e.message !== undefined ? e.message : e)});
			}
			__hostReply(reply);
		},

		settle: function (index, error) {
			var p = pending[Number(index)];
			if (!p) {
				return;
			}
			delete pending[Number(index)];
			if (error) {
				p.reject(new Error(error));
			} else {
				p.resolve(p.service);
			}
		}
	});
})();
`

// extensionVM is one QuickJS VM and the extensions registered from it. The
// VM is single threaded: every evaluation holds mu.
type extensionVM struct {
	api *worker.API

	mu     sync.Mutex
	vm     *quickjs.VM
	closed bool
	reply  string

	closeOnce sync.Once
}

func newExtensionVM(api *worker.API) (*extensionVM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, err
	}
	v := &extensionVM{api: api, vm: vm}

	if err := vm.RegisterFunc("__hostRegister", v.hostRegister, false); err != nil {
		vm.Close()
		return nil, fmt.Errorf("register __hostRegister: %w", err)
	}
	if err := vm.RegisterFunc("__hostReply", v.hostReply, false); err != nil {
		vm.Close()
		return nil, fmt.Errorf("register __hostReply: %w", err)
	}
	if err := v.eval(runtimeJS); err != nil {
		vm.Close()
		return nil, fmt.Errorf("install runtime: %w", err)
	}
	return v, nil
}

// run executes the extension code with a fresh capability object bound to
// the parameter Scratch.
func (v *extensionVM) run(src string) error {
	blockTypes, err := enumJSON(v.api.BlockType)
	if err != nil {
		return err
	}
	argumentTypes, err := enumJSON(v.api.ArgumentType)
	if err != nil {
		return err
	}
	targetTypes, err := enumJSON(v.api.TargetType)
	if err != nil {
		return err
	}

	wrapped := fmt.Sprintf("(function (Scratch) {\n%s\n}).call(undefined, __extensionRuntime.capability(%s, %s, %s));",
		src, jsString(blockTypes), jsString(argumentTypes), jsString(targetTypes))

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.eval(wrapped)
}

func (v *extensionVM) eval(src string) error {
	val, err := v.vm.EvalValue(src, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	val.Free()
	return nil
}

// hostRegister runs inside an evaluation, with mu already held.
func (v *extensionVM) hostRegister(index, infoJSON string) string {
	svc, info, err := v.service(index, infoJSON)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - refusing extension %s: %v", logPrefix, index, err))
		out, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(out)
	}

	reg := v.api.Register(svc)
	slog.Info(fmt.Sprintf("%s - registered %s as %s", logPrefix, info.ID, reg.ServiceName))
	go v.settle(index, reg)

	out, _ := json.Marshal(map[string]string{"service": reg.ServiceName})
	return string(out)
}

// hostReply runs inside an evaluation, with mu already held.
func (v *extensionVM) hostReply(payload string) {
	v.reply = payload
}

func (v *extensionVM) service(index, infoJSON string) (dispatcher.Service, extension.Info, error) {
	info, err := decodeInfo(infoJSON)
	if err != nil {
		return nil, info, err
	}
	methods := make(dispatcher.Service, len(info.Blocks))
	for _, opcode := range info.Opcodes() {
		methods[opcode] = v.method(index, opcode)
	}
	svc, err := extension.NewService(info, methods)
	return svc, info, err
}

// method calls opcode on the extension object. Ending ctx interrupts a
// running script.
func (v *extensionVM) method(index, opcode string) dispatcher.Method {
	return func(ctx context.Context, args []interface{}) (interface{}, error) {
		if args == nil {
			args = []interface{}{}
		}
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode arguments for %s: %w", opcode, err)
		}

		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return nil, ErrVMClosed
		}
		stop := context.AfterFunc(ctx, func() { v.vm.Interrupt() })
		defer stop()

		v.reply = ""
		if err := v.eval(fmt.Sprintf("__extensionRuntime.invoke(%s, %s, %s)", jsString(index), jsString(opcode), jsString(string(argsJSON)))); err != nil {
			return nil, err
		}

		var out struct {
			Value interface{} `json:"value"`
			Error *string     `json:"error"`
		}
		if err := json.Unmarshal([]byte(v.reply), &out); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", opcode, err)
		}
		if out.Error != nil {
			return nil, errors.New(*out.Error)
		}
		return out.Value, nil
	}
}

// settle resolves or rejects the promise register handed to the script.
func (v *extensionVM) settle(index string, reg *worker.Registration) {
	<-reg.Done()
	description := ""
	if err := reg.Err(); err != nil {
		description = err.Error()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if err := v.eval(fmt.Sprintf("__extensionRuntime.settle(%s, %s)", jsString(index), jsString(description))); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to settle registration of %s: %v", logPrefix, reg.ServiceName, err))
	}
}

func (v *extensionVM) close() {
	v.closeOnce.Do(func() {
		v.vm.Interrupt()
		v.mu.Lock()
		defer v.mu.Unlock()
		v.closed = true
		v.vm.Close()
	})
}

// decodeInfo reads a getInfo result. Non-object entries in blocks, such as
// "---" separators, are skipped.
func decodeInfo(data string) (extension.Info, error) {
	var raw struct {
		ID     string            `json:"id"`
		Name   string            `json:"name"`
		Blocks []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return extension.Info{}, fmt.Errorf("getInfo result: %w", err)
	}
	info := extension.Info{ID: raw.ID, Name: raw.Name}
	for i, b := range raw.Blocks {
		if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
			continue
		}
		var block extension.Block
		if err := json.Unmarshal(b, &block); err != nil {
			return info, fmt.Errorf("getInfo block %d: %w", i, err)
		}
		info.Blocks = append(info.Blocks, block)
	}
	return info, nil
}

// enumJSON turns a type table into the object scripts index with upper-case
// names, e.g. BlockType.REPORTER.
func enumJSON(table interface{}) (string, error) {
	rv := reflect.ValueOf(table)
	if rv.Kind() != reflect.Struct {
		return "", fmt.Errorf("enum table %T is not a struct", table)
	}
	out := make(map[string]string, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		out[strings.ToUpper(rv.Type().Field(i).Name)] = rv.Field(i).String()
	}
	data, err := json.Marshal(out)
	return string(data), err
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
