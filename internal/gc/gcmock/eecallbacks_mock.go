// Package gcmock provides hand-written, mockgen-shaped test doubles for the
// collector/EE boundary (internal/gc/gcheap.EECallbacks), so mark/suspend/
// finalizer-driving tests don't need a real mutator runtime to supply roots
// and invoke finalizers.
//
// Grounded on the teacher's own internal/testrunner/mockgen generator
// (cmd/orizon-mockgen): that tool emits a Controller/recorder-shaped mock
// for an arbitrary interface from its go/types signature. This package is
// the output such a generator would produce for EECallbacks, written by
// hand against go.uber.org/mock/gomock instead of the teacher's own
// Stub-based flavor, since go.uber.org/mock is the dependency this module
// actually carries (see DESIGN.md/SPEC_FULL.md §2) and EXPECT()-based
// call matching is what internal/gc/verify's scenario tests need to script
// root sets per-GC rather than just record call history.
package gcmock

import (
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockEECallbacks is a mock of the EECallbacks interface.
type MockEECallbacks struct {
	ctrl     *gomock.Controller
	recorder *MockEECallbacksMockRecorder
}

// MockEECallbacksMockRecorder is the EXPECT() recorder for MockEECallbacks.
type MockEECallbacksMockRecorder struct {
	mock *MockEECallbacks
}

// NewMockEECallbacks builds a mock bound to ctrl, failing the enclosing test
// via ctrl's *testing.T if an unexpected call or argument mismatch occurs.
func NewMockEECallbacks(ctrl *gomock.Controller) *MockEECallbacks {
	mock := &MockEECallbacks{ctrl: ctrl}
	mock.recorder = &MockEECallbacksMockRecorder{mock}

	return mock
}

// EXPECT returns the recorder used to script call expectations.
func (m *MockEECallbacks) EXPECT() *MockEECallbacksMockRecorder {
	return m.recorder
}

func (m *MockEECallbacks) SuspendEE() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "SuspendEE")
}

func (mr *MockEECallbacksMockRecorder) SuspendEE() *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SuspendEE", reflect.TypeOf((*MockEECallbacks)(nil).SuspendEE))
}

func (m *MockEECallbacks) RestartEE() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "RestartEE")
}

func (mr *MockEECallbacksMockRecorder) RestartEE() *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RestartEE", reflect.TypeOf((*MockEECallbacks)(nil).RestartEE))
}

func (m *MockEECallbacks) EnumerateStackRoots(push func(root uintptr)) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "EnumerateStackRoots", push)
}

func (mr *MockEECallbacksMockRecorder) EnumerateStackRoots(push interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "EnumerateStackRoots", reflect.TypeOf((*MockEECallbacks)(nil).EnumerateStackRoots), push)
}

func (m *MockEECallbacks) EnumerateStaticRoots(push func(root uintptr)) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "EnumerateStaticRoots", push)
}

func (mr *MockEECallbacksMockRecorder) EnumerateStaticRoots(push interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "EnumerateStaticRoots", reflect.TypeOf((*MockEECallbacks)(nil).EnumerateStaticRoots), push)
}

func (m *MockEECallbacks) InvokeFinalizer(obj uintptr) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "InvokeFinalizer", obj)
}

func (mr *MockEECallbacksMockRecorder) InvokeFinalizer(obj interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "InvokeFinalizer", reflect.TypeOf((*MockEECallbacks)(nil).InvokeFinalizer), obj)
}

func (m *MockEECallbacks) LogError(msg string) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "LogError", msg)
}

func (mr *MockEECallbacksMockRecorder) LogError(msg interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LogError", reflect.TypeOf((*MockEECallbacks)(nil).LogError), msg)
}

func (m *MockEECallbacks) HandleFatalError(code int) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "HandleFatalError", code)
}

func (mr *MockEECallbacksMockRecorder) HandleFatalError(code interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HandleFatalError", reflect.TypeOf((*MockEECallbacks)(nil).HandleFatalError), code)
}
