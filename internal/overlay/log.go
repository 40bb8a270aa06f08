package overlay

func (n *Node) Logf(format string, args ...any) {
	if !n.cfg.Debug || n.cfg.Logger == nil {
		return
	}
	n.cfg.Logger.Printf("[overlay %s] "+format, append([]any{n.id.ID[:8]}, args...)...)
}
