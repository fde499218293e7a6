package render

type Renderer[T any] interface {
	Render(result T) error
}

// RendererFunc adapts a render method to Renderer
type RendererFunc[T any] func(result T) error

func (f RendererFunc[T]) Render(result T) error {
	return f(result)
}
