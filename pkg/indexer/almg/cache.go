package almg

func (c *Client) cachedResponse(key string) []byte {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	cached := c.cache.Get(key)
	if cached == nil {
		return nil
	}
	return cached.Value()
}

func (c *Client) setCachedResponse(key string, body []byte) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache.Set(key, body, c.cfg.CacheTTL)
}
