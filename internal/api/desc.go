// Package api exposes the daemon over gRPC. Messages are
// google.protobuf.Struct values whose fields mirror the JSON-tagged request
// and response types of this package, so the service needs no generated
// code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dmsync.v1.Control"

// Method names of the control service.
const (
	MethodStatus           = "Status"
	MethodConnect          = "Connect"
	MethodDisconnect       = "Disconnect"
	MethodLogout           = "Logout"
	MethodOpenConversation = "OpenConversation"
	MethodSendMessage      = "SendMessage"
	MethodListMessages     = "ListMessages"
	MethodViewMessage      = "ViewMessage"
	MethodMarkRead         = "MarkRead"
	MethodTyping           = "Typing"
	MethodEditMessage      = "EditMessage"
	MethodRecallMessage    = "RecallMessage"
	MethodDeleteMessage    = "DeleteMessage"
	MethodHistory          = "History"
	MethodRestoreVersion   = "RestoreVersion"
	MethodToggle           = "Toggle"
	MethodPin              = "Pin"
	MethodUnpin            = "Unpin"
	MethodQuickAccess      = "QuickAccess"
	MethodSetFilter        = "SetFilter"
	MethodMark             = "Mark"
	MethodSetPreference    = "SetPreference"
	MethodSuggestions      = "Suggestions"
	MethodCache            = "Cache"
	MethodPresence         = "Presence"
	MethodRetry            = "Retry"
	MethodWatch            = "Watch"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ControlServer is the server API of the control service.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ViewMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecallMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Toggle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unpin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QuickAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFilter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Mark(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPreference(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Suggestions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cache(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Presence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, stream)
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, ControlServer.Status),
		unary(MethodConnect, ControlServer.Connect),
		unary(MethodDisconnect, ControlServer.Disconnect),
		unary(MethodLogout, ControlServer.Logout),
		unary(MethodOpenConversation, ControlServer.OpenConversation),
		unary(MethodSendMessage, ControlServer.SendMessage),
		unary(MethodListMessages, ControlServer.ListMessages),
		unary(MethodViewMessage, ControlServer.ViewMessage),
		unary(MethodMarkRead, ControlServer.MarkRead),
		unary(MethodTyping, ControlServer.Typing),
		unary(MethodEditMessage, ControlServer.EditMessage),
		unary(MethodRecallMessage, ControlServer.RecallMessage),
		unary(MethodDeleteMessage, ControlServer.DeleteMessage),
		unary(MethodHistory, ControlServer.History),
		unary(MethodRestoreVersion, ControlServer.RestoreVersion),
		unary(MethodToggle, ControlServer.Toggle),
		unary(MethodPin, ControlServer.Pin),
		unary(MethodUnpin, ControlServer.Unpin),
		unary(MethodQuickAccess, ControlServer.QuickAccess),
		unary(MethodSetFilter, ControlServer.SetFilter),
		unary(MethodMark, ControlServer.Mark),
		unary(MethodSetPreference, ControlServer.SetPreference),
		unary(MethodSuggestions, ControlServer.Suggestions),
		unary(MethodCache, ControlServer.Cache),
		unary(MethodPresence, ControlServer.Presence),
		unary(MethodRetry, ControlServer.Retry),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dmsync/v1/control",
}

// Register adds the control service to s.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
