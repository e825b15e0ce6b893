package mocks

//go:generate mockery --name OffsetStore --srcpkg github.com/tributary-io/tributary/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name Transport --srcpkg github.com/tributary-io/tributary/internal/transport --output ./transport --outpkg transportmocks --with-expecter
