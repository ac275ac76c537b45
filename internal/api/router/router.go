package router

import (
	"github.com/wb-go/wbf/ginext"

	exporthandler "github.com/halmakey/pngin/internal/api/handlers/export"
	pathhandler "github.com/halmakey/pngin/internal/api/handlers/path"
	"github.com/halmakey/pngin/internal/middleware"
)

func Setup(ph *pathhandler.Handler, eh *exporthandler.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	admin := r.Group("/api/admin")
	collection := admin.Group("/collection/:id")

	collection.GET("/path", ph.List)                              // listing folder rows
	collection.POST("/path", ph.Create)                           // creating a folder
	collection.DELETE("/path", ph.Delete)                         // deleting a folder subtree
	collection.POST("/path/reorder", ph.Reorder)                  // reordering sibling folders
	collection.PUT("/submission/paths", ph.Assign)                // assigning submissions to a folder
	collection.POST("/submission/reorder", ph.ReorderSubmissions) // reordering inside a folder

	collection.POST("/export", eh.Trigger) // triggering an export run
	collection.GET("/export", eh.History)  // export history

	return r
}
