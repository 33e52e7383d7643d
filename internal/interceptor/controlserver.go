/*
Copyright 2026 The Aegisgate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package interceptor

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// ControlServer exposes Controller's five lifecycle operations over
// loopback-only HTTP, the transport a
// host UI process drives the interceptor through.
type ControlServer struct {
	ctrl   *Controller
	router *httprouter.Router
	http   *http.Server
}

// NewControlServer binds a ControlServer to addr, which must be a loopback
// address — the interceptor grants whoever can reach this port full
// control over hosts-file mutation and traffic interception.
func NewControlServer(addr string, ctrl *Controller) *ControlServer {
	s := &ControlServer{ctrl: ctrl, router: httprouter.New()}
	s.router.POST("/initialize", s.handleInitialize)
	s.router.POST("/run", s.handleRun)
	s.router.POST("/stop", s.handleStop)
	s.router.POST("/restore", s.handleRestore)
	s.router.GET("/status", s.handleStatus)
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Run blocks serving control requests until the listener is closed.
func (s *ControlServer) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

func (s *ControlServer) handleInitialize(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeControlResult(w, s.ctrl.Initialize())
}

type runRequest struct {
	GatewayURL string `json:"gatewayUrl"`
}

func (s *ControlServer) handleRun(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req runRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeControlResult(w, s.ctrl.Run(req.GatewayURL))
}

func (s *ControlServer) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.ctrl.Stop()
	writeControlResult(w, nil)
}

func (s *ControlServer) handleRestore(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeControlResult(w, s.ctrl.Restore())
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, err := s.ctrl.StatusOf()
	if err != nil {
		writeControlResult(w, err)
		return
	}
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func writeControlResult(w http.ResponseWriter, err error) {
	w.Header().Set("content-type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": trace.UserMessage(err)})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
