package server

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"hello-rpc/message"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type // nil for streaming methods
}

// newArgs allocates the args struct and fills it from the request payload.
func (mt *methodType) newArgs(payload []byte) (reflect.Value, error) {
	argv := reflect.New(mt.ArgType)
	if err := json.Unmarshal(payload, argv.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return argv, nil
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	unary  map[string]*methodType
	stream map[string]*methodType
}

var (
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	streamType = reflect.TypeOf((*Stream)(nil))
)

// newService builds a service from a receiver and scans its RPC methods.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}

	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		unary:  make(map[string]*methodType),
		stream: make(map[string]*methodType),
	}
	svc.registerMethods()

	if len(svc.unary) == 0 && len(svc.stream) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods matching an RPC signature", svc.name)
	}
	return svc, nil
}

// registerMethods scans exported methods and keeps those matching one of the
// two RPC shapes:
//
//	unary:     func (s *S) M(args *A, reply *R) error
//	streaming: func (s *S) M(args *A, stream *Stream) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mtype := method.Type
		if mtype.NumIn() != 3 || mtype.NumOut() != 1 || mtype.Out(0) != errorType {
			continue
		}
		if mtype.In(1).Kind() != reflect.Ptr {
			continue
		}

		if mtype.In(2) == streamType {
			s.stream[method.Name] = &methodType{
				method:  method,
				ArgType: mtype.In(1).Elem(),
			}
			continue
		}
		if mtype.In(2).Kind() == reflect.Ptr {
			s.unary[method.Name] = &methodType{
				method:    method,
				ArgType:   mtype.In(1).Elem(),
				ReplyType: mtype.In(2).Elem(),
			}
		}
	}
}

// callUnary invokes receiver.Method(args, reply) and returns the serialized
// reply on success.
func (s *service) callUnary(mt *methodType, argv reflect.Value) ([]byte, error) {
	replyv := reflect.New(mt.ReplyType)
	results := mt.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	if !results[0].IsNil() {
		return nil, results[0].Interface().(error)
	}
	return json.Marshal(replyv.Interface())
}

// callStream invokes receiver.Method(args, stream); the handler produces
// elements through the stream and its return ends the call.
func (s *service) callStream(mt *methodType, argv reflect.Value, stream *Stream) error {
	results := mt.method.Func.Call([]reflect.Value{s.rcvr, argv, reflect.ValueOf(stream)})
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// resolveUnary maps "Service.Method" to a unary method, or explains why not.
func (svr *Server) resolveUnary(serviceMethod string) (*service, *methodType, *message.RPCMessage) {
	svc, name, errMsg := svr.resolveService(serviceMethod)
	if errMsg != nil {
		return nil, nil, errMsg
	}
	mt, ok := svc.unary[name]
	if !ok {
		if _, isStream := svc.stream[name]; isStream {
			return nil, nil, message.Errorf(message.CodeNotFound, "%s is a streaming method, use a stream call", serviceMethod)
		}
		return nil, nil, message.Errorf(message.CodeNotFound, "unknown method: %s", serviceMethod)
	}
	return svc, mt, nil
}

// resolveStream maps "Service.Method" to a streaming method.
func (svr *Server) resolveStream(serviceMethod string) (*service, *methodType, *message.RPCMessage) {
	svc, name, errMsg := svr.resolveService(serviceMethod)
	if errMsg != nil {
		return nil, nil, errMsg
	}
	mt, ok := svc.stream[name]
	if !ok {
		if _, isUnary := svc.unary[name]; isUnary {
			return nil, nil, message.Errorf(message.CodeNotFound, "%s is a unary method, use a unary call", serviceMethod)
		}
		return nil, nil, message.Errorf(message.CodeNotFound, "unknown method: %s", serviceMethod)
	}
	return svc, mt, nil
}

func (svr *Server) resolveService(serviceMethod string) (*service, string, *message.RPCMessage) {
	split := strings.Split(serviceMethod, ".")
	if len(split) != 2 {
		return nil, "", message.Errorf(message.CodeNotFound, "invalid service method format: %q", serviceMethod)
	}
	svc, ok := svr.serviceMap[split[0]]
	if !ok {
		return nil, "", message.Errorf(message.CodeNotFound, "unknown service: %s", split[0])
	}
	return svc, split[1], nil
}
