// Package storage owns the export directory of a run and the files written
// into it.
//
// CreateExportDirectory makes the uniquely timestamped run directory and
// refuses to reuse one that already holds files. Manager places media in it:
//
//   - Reserve picks a name that is free both on disk and among names handed
//     out earlier in the run, inserting a counter before the extension on
//     collision (photo.jpg, photo1.jpg, photo2.jpg).
//   - Commit streams the body into a hidden .part file and renames it into
//     place, so a failed download never leaves a partial file behind.
//   - A sidecar, when requested, is written next to the media after the rename;
//     its failure is reported separately and does not undo the media file.
//
// Usage:
//
//	dir, err := storage.CreateExportDirectory(root, "harvest", time.Now())
//	if err != nil {
//	    return err // directory_conflict: the run must not start
//	}
//	manager := storage.NewManager(dir, client, storage.WithMaxFileSize(50<<20))
//	result := manager.Store(ctx, item.MediaURL, item.Filename, metadata.FromItem(item))
//	if result.Err != nil {
//	    log.Printf("download failed: %v", result.Err)
//	}
package storage
