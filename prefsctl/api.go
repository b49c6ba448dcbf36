package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bringyour/prefsync/prefs"
)

// the host's http surface: the session websocket and read only json views of the session
type HostApi struct {
	server      *http.Server
	sessionName string
	settings    *prefs.SessionSettings
	transport   *prefs.WsHostTransport
}

type HostApiOptions struct {
	Addr        string
	SessionName string
	Settings    *prefs.SessionSettings
	Transport   *prefs.WsHostTransport
}

func (o *HostApiOptions) AreValid() error {
	if o.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if o.Settings == nil {
		return fmt.Errorf("session settings are required")
	}
	if o.Transport == nil {
		return fmt.Errorf("host transport is required")
	}
	return nil
}

func StartHostApi(o HostApiOptions, errorCallback func(err error)) (*HostApi, error) {
	if err := o.AreValid(); err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	api := &HostApi{
		sessionName: o.SessionName,
		settings:    o.Settings,
		transport:   o.Transport,
	}
	api.server = &http.Server{
		Addr:    o.Addr,
		Handler: api.router(),
	}

	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorCallback(err)
			return
		}
	}()

	return api, nil
}

func (a *HostApi) router() *gin.Engine {
	// no per request logging, the console shares the terminal
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(SessionPath, gin.WrapH(a.transport))
	router.GET("/status", func(c *gin.Context) { a.getStatus(c) })
	router.GET("/settings/:category", func(c *gin.Context) { a.getSettings(c) })
	router.GET("/participants", func(c *gin.Context) { a.getParticipants(c) })
	return router
}

func (a *HostApi) StopApi() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.server = nil
	return nil
}

func (a *HostApi) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":      a.sessionName,
		"version":      RequireVersion(),
		"peers":        a.transport.PeerCount(),
		"participants": a.settings.Participants.Len(),
	})
}

// effective values by preference name
func (a *HostApi) getSettings(c *gin.Context) {
	category, err := findCategory(a.settings, c.Param("category"))
	if err != nil {
		c.String(http.StatusNotFound, fmt.Sprintf("%d Not Found - %v", http.StatusNotFound, err))
		return
	}
	effective := category.Effective()
	values := gin.H{}
	for _, entry := range effective.Entries() {
		values[entry.Name], _ = effective.Text(entry.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category.Name(),
		"values":   values,
	})
}

// what each participant reports about itself, by small id
func (a *HostApi) getParticipants(c *gin.Context) {
	participants := gin.H{}
	clientCategory := a.settings.Client.Category
	for _, smallId := range a.settings.Participants.SmallIds() {
		effective := clientCategory.EffectiveForParticipant(a.settings.Participants, smallId)
		values := gin.H{}
		for _, entry := range effective.Entries() {
			if entry.FromReceived {
				values[entry.Name], _ = effective.Text(entry.Name)
			}
		}
		participants[strconv.Itoa(int(smallId))] = values
	}
	c.JSON(http.StatusOK, participants)
}
