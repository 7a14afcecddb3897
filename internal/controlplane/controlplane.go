// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package controlplane implements the agent's local HTTP surface:
// GET /info, POST /probe, POST /local_install, POST /remote_install,
// POST /update/download/abort, and GET /log. The /probe, /local_install,
// /remote_install and /update/download/abort handlers translate into a
// statemachine.Command submitted over the machine's command channel;
// /info serves the machine's published snapshot and /log drains the log
// ring.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/statemachine"
)

var log = logger.New("updatehub", "")

// commandTimeout bounds how long a handler waits for the machine to accept
// and reply to a command before giving up with a 500.
const commandTimeout = 10 * time.Second

// Server wires the HTTP surface to a Machine and a log ring.
type Server struct {
	machine *statemachine.Machine
	ring    *logger.Ring
	mux     *http.ServeMux
}

// New builds a Server. ring may be nil, in which case GET /log always
// returns an empty array.
func New(machine *statemachine.Machine, ring *logger.Ring) *Server {
	s := &Server{machine: machine, ring: ring, mux: http.NewServeMux()}
	s.mux.HandleFunc("/info", s.handleInfo)
	s.mux.HandleFunc("/probe", s.handleProbe)
	s.mux.HandleFunc("/local_install", s.handleLocalInstall)
	s.mux.HandleFunc("/remote_install", s.handleRemoteInstall)
	s.mux.HandleFunc("/update/download/abort", s.handleAbort)
	s.mux.HandleFunc("/log", s.handleLog)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type infoResponse struct {
	State     statemachine.StateID `json:"state"`
	Version   string               `json:"version,omitempty"`
	Product   string               `json:"product-uid,omitempty"`
	Hardware  string               `json:"hardware,omitempty"`
	Polling   pollingResponse      `json:"polling"`
	Update    updateResponse       `json:"update"`
	LastError string               `json:"last-error,omitempty"`
}

type pollingResponse struct {
	ProbeASAP           bool   `json:"probe-asap"`
	CustomServerAddress string `json:"custom-server-address,omitempty"`
	Retries             int    `json:"retries"`
}

type updateResponse struct {
	AppliedPackageUID string `json:"applied-package-uid,omitempty"`
	UpgradingTo       string `json:"upgrading-to,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	// The machine publishes its snapshot at every transition, so /info
	// never round-trips the command channel: it must answer even while the
	// machine is deep inside a long install.
	snap := s.machine.Snapshot()
	if snap == nil {
		internalError(w, fmt.Errorf("no state snapshot published yet"))
		return
	}

	resp := infoResponse{State: snap.State, LastError: snap.LastError}
	if snap.Firmware != nil {
		resp.Version = snap.Firmware.Version
		resp.Product = snap.Firmware.ProductUID
		resp.Hardware = snap.Firmware.Hardware
	}
	resp.Polling = pollingResponse{
		ProbeASAP:           snap.Polling.ProbeASAP,
		CustomServerAddress: snap.Polling.CustomServerAddress,
		Retries:             snap.Polling.Retries,
	}
	resp.Update.AppliedPackageUID = snap.Update.AppliedPackageUID
	if snap.Update.UpgradingTo != nil {
		resp.Update.UpgradingTo = snap.Update.UpgradingTo.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

type probeRequest struct {
	CustomServer string `json:"custom_server"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req probeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	s.submitAndReply(w, r, statemachine.Command{Kind: statemachine.CmdProbe, CorrelationID: uuid.NewString(), CustomServer: req.CustomServer})
}

type localInstallRequest struct {
	File string `json:"file"`
}

func (s *Server) handleLocalInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req localInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" {
		writeError(w, http.StatusBadRequest, "request body must set \"file\"")
		return
	}

	s.submitAndReply(w, r, statemachine.Command{Kind: statemachine.CmdLocalInstall, CorrelationID: uuid.NewString(), Path: req.File})
}

type remoteInstallRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRemoteInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req remoteInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "request body must set \"url\"")
		return
	}

	s.submitAndReply(w, r, statemachine.Command{Kind: statemachine.CmdRemoteInstall, CorrelationID: uuid.NewString(), URL: req.URL})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	s.submitAndReply(w, r, statemachine.Command{Kind: statemachine.CmdAbortDownload, CorrelationID: uuid.NewString()})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if s.ring == nil {
		writeJSON(w, http.StatusOK, []logger.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, s.ring.Drain())
}

// submitAndReply is the common path for every command that doesn't need to
// shape its own success response: 200 with {"message": ...} if accepted,
// 406 with {"error": ...} if the machine refused it, 500 on transport
// failure.
func (s *Server) submitAndReply(w http.ResponseWriter, r *http.Request, cmd statemachine.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	res, err := s.machine.SubmitCommand(ctx, cmd)
	if err != nil {
		internalError(w, err)
		return
	}

	if !res.Accepted {
		msg := "command refused"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		log.Warnf("%s command refused: %s", cmd.Kind, msg)
		writeError(w, http.StatusNotAcceptable, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":        cmd.Kind.String() + " accepted",
		"state":          string(res.PriorState),
		"correlation-id": cmd.CorrelationID,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func internalError(w http.ResponseWriter, err error) {
	log.Errorf("control plane: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("control plane: encoding response: %v", err)
	}
}
