package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount registers the console routes on r. sendLimit wraps the endpoints that
// post into a topic and may be nil.
func Mount(r chi.Router, consoleHandler *ConsoleHandler, streamHandler *StreamHandler, sendLimit func(http.Handler) http.Handler) {
	r.Get("/activations", consoleHandler.Activations)

	r.Route("/console/{agent}/{activation}", func(r chi.Router) {
		r.Get("/", consoleHandler.Open)
		r.Get("/stream", streamHandler.Stream)
		r.Post("/refresh", consoleHandler.Refresh)
		r.Put("/selection", consoleHandler.Select)
		r.Post("/topics", consoleHandler.CreateTopic)
		r.Delete("/topics/{topic}/messages", consoleHandler.DeleteTopicMessages)
		r.Post("/messages/more", consoleHandler.LoadMore)

		r.Group(func(r chi.Router) {
			if sendLimit != nil {
				r.Use(sendLimit)
			}
			r.Post("/messages", consoleHandler.Send)
			r.Post("/files", consoleHandler.SendFile)
		})
	})
}
