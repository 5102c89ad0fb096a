// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package httpserver exposes the repository service over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/antgroup/dogma/pkg/command"
	"github.com/antgroup/dogma/pkg/replication"
	"github.com/antgroup/dogma/pkg/serve"
	"github.com/antgroup/dogma/pkg/session"
	"github.com/antgroup/dogma/pkg/storage/cache"
	"github.com/antgroup/dogma/pkg/storage/project"
	"github.com/antgroup/dogma/pkg/storage/repo"
	"github.com/antgroup/dogma/pkg/version"
	"github.com/antgroup/dogma/pkg/watch"
	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const apiPrefix = "/api/v1"

type Server struct {
	*serve.ServerConfig
	srv        *http.Server
	r          *mux.Router
	serverName string

	projects *project.Manager
	cache    *cache.Cache
	pool     *repo.Pool
	executor command.Executor
	watch    *watch.Service
	sessions *session.Store
	quota    *session.QuotaManager

	zkConn *zk.Conn
}

func NewServer(sc *serve.ServerConfig) (*Server, error) {
	s := &Server{
		ServerConfig: sc,
		srv: &http.Server{
			Addr:         sc.Listen,
			ReadTimeout:  sc.ReadTimeout.Duration,
			IdleTimeout:  sc.IdleTimeout.Duration,
			WriteTimeout: sc.WriteTimeout.Duration,
		},
		serverName: sc.BannerVersion,
	}
	if s.serverName == "" {
		s.serverName = version.GetBannerVersion()
	}

	var err error
	if s.projects, err = project.NewManager(sc.DataDir, sc.PurgeDelay.Duration); err != nil {
		return nil, err
	}
	if s.cache, err = cache.New(sc.Cache.Spec()); err != nil {
		return nil, err
	}
	s.pool = repo.NewPool(sc.Workers)
	s.watch = watch.NewService()
	s.projects.SetNotifier(s.watch)
	s.sessions = session.NewStore([]byte(sc.Secret), sc.SessionTTL.Duration)
	s.quota = session.NewQuotaManager(sc.Quota.Quota())

	delegate := command.NewStandaloneExecutor(s.projects, s.cache, s.pool, s.sessions)
	if s.executor, err = s.newExecutor(delegate); err != nil {
		return nil, err
	}
	if err := s.executor.Start(
		func() { logrus.Info("this replica now leads the cluster") },
		func() { logrus.Info("this replica no longer leads the cluster") },
	); err != nil {
		return nil, err
	}
	s.projects.StartPurgeWorker(time.Minute)
	s.initialize()
	return s, nil
}

// newExecutor picks the replication mode from the config.
func (s *Server) newExecutor(delegate *command.StandaloneExecutor) (command.Executor, error) {
	rc := s.Replication
	if rc == nil || rc.Method != serve.ReplicationZooKeeper {
		return delegate, nil
	}
	sessionTimeout := rc.SessionTimeout.Duration
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Second
	}
	conn, _, err := zk.Connect(rc.Servers, sessionTimeout)
	if err != nil {
		return nil, err
	}
	prefix := rc.Prefix
	if prefix == "" {
		prefix = "/dogma"
	}
	nodeID := rc.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	log, err := replication.NewLog(conn, prefix)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.zkConn = conn
	return replication.NewExecutor(delegate, log, replication.NewElection(conn, prefix, nodeID),
		replication.Retention{KeepCount: rc.MaxLogCount, MinAge: rc.MinLogAge.Duration}), nil
}

func (s *Server) initialize() {
	r := mux.NewRouter().UseEncodedPath()
	api := r.PathPrefix(apiPrefix).Subrouter()

	api.HandleFunc("/login", s.Login).Methods("POST")
	api.HandleFunc("/status", s.GetStatus).Methods("GET")
	api.HandleFunc("/status", s.authorized(s.UpdateStatus)).Methods("PUT")

	api.HandleFunc("/projects", s.authorized(s.ListProjects)).Methods("GET")
	api.HandleFunc("/projects", s.authorized(s.CreateProject)).Methods("POST")
	api.HandleFunc("/projects/{project}", s.authorized(s.RemoveProject)).Methods("DELETE")
	api.HandleFunc("/projects/{project}", s.authorized(s.PatchProject)).Methods("PATCH")
	api.HandleFunc("/projects/{project}/removed", s.authorized(s.PurgeProject)).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos", s.authorized(s.ListRepos)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos", s.authorized(s.CreateRepo)).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.authorized(s.RemoveRepo)).Methods("DELETE")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.authorized(s.PatchRepo)).Methods("PATCH")
	api.HandleFunc("/projects/{project}/repos/{repo}/removed", s.authorized(s.PurgeRepo)).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos/{repo}/revision/{revision}", s.authorized(s.NormalizeRevision)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/tree/revisions/{revision}{pattern:.*}", s.authorized(s.ListTree)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents/revisions/{revision}{path:.*}", s.authorized(s.GetContents)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents{path:.*}", s.authorized(s.GetOrWatchContents)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents", s.authorized(s.Push)).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}/preview", s.authorized(s.PreviewDiff)).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}/history{pattern:.*}", s.authorized(s.History)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/compare{pattern:.*}", s.authorized(s.Compare)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/merge", s.authorized(s.MergeQuery)).Methods("GET")

	s.r = r
	s.srv.Handler = s
}

func (s *Server) ListenAndServe() error {
	logrus.Infof("dogma listening on %s (data: %s)", s.Listen, s.DataDir)
	return s.srv.ListenAndServe()
}

func logResponse(hw *ResponseWriter, r *http.Request, tr *trackedReader, spent time.Duration) {
	message := r.Header.Get(ErrorMessageKey)
	statusCode := hw.StatusCode()
	if statusCode >= http.StatusBadRequest || len(message) != 0 {
		logrus.Errorf("[%s] %s %s status: %d received: %d written: %d spent: %v message: %s",
			hw.RemoteAddress(), r.Method, r.RequestURI, statusCode, tr.received, hw.Written(), spent, message)
		return
	}
	logrus.Infof("[%s] %s %s status: %d received: %d written: %d spent: %v",
		hw.RemoteAddress(), r.Method, r.RequestURI, statusCode, tr.received, hw.Written(), spent)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// remove multiple slash and ./..
	if r.URL != nil {
		r.URL.Path = path.Clean(r.URL.Path)
	}

	w.Header().Set("Server", s.serverName)
	tr := newTrackedReader(r.Body)
	r.Body = tr
	now := time.Now()
	hw := NewResponseWriter(w, r)
	s.r.ServeHTTP(hw, r)
	logResponse(hw, r, tr, time.Since(now))
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		logrus.Errorf("shutdown http server: %v", err)
	}
	s.projects.StopPurgeWorker()
	if err := s.executor.Stop(); err != nil {
		logrus.Errorf("stop executor: %v", err)
	}
	if s.zkConn != nil {
		s.zkConn.Close()
	}
	s.pool.Close()
	s.cache.Close()
	return nil
}

// repository resolves the repository addressed by the route, writing the
// error response on failure.
func (s *Server) repository(w http.ResponseWriter, r *http.Request) (*repo.Repository, bool) {
	vars := mux.Vars(r)
	rr, err := s.projects.Repo(vars["project"], vars["repo"])
	if err != nil {
		s.renderError(w, r, err)
		return nil, false
	}
	return rr, true
}
